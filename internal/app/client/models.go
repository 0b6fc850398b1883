package client

import "time"

// Profile - профиль студента
type Profile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Program   string `json:"program"`
	Year      int    `json:"year"`
}

// Intake - набор на курс
type Intake struct {
	ID       int64     `json:"id"`
	Course   string    `json:"course"`
	Title    string    `json:"title"`
	Year     int       `json:"year"`
	Capacity int       `json:"capacity"`
	Enrolled int       `json:"enrolled"`
	StartsAt time.Time `json:"starts_at"`
}

// Class - занятие в расписании набора
type Class struct {
	ID       int64     `json:"id"`
	IntakeID int64     `json:"intake_id"`
	Title    string    `json:"title"`
	Lecturer string    `json:"lecturer"`
	Room     string    `json:"room"`
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

// Announcement - объявление университета
type Announcement struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Author      string    `json:"author"`
	PublishedAt time.Time `json:"published_at"`
}

// TicketRequest - заявка в службу поддержки
type TicketRequest struct {
	Subject  string `json:"subject" validate:"required,min=3"`
	Body     string `json:"body" validate:"required"`
	Category string `json:"category,omitempty"`
}

// Ticket - заявка, зарегистрированная на сервере
type Ticket struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Room - комната чата
type Room struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Direct bool   `json:"direct"`
}

type credentials struct {
	Login    string `validate:"required,min=3"`
	Password string `validate:"required,min=6"`
}
