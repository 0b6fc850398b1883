package main

import (
	"net/http"
	"os"

	"github.com/spf13/viper"

	"unicampus/internal/devstub"
	"unicampus/internal/utils/logger"
)

func main() {
	viper.AutomaticEnv()
	viper.SetDefault("APP_ENV", "local")
	viper.SetDefault("DEVSERVER_ADDRESS", "localhost:8080")
	viper.SetDefault("DEVSERVER_SECRET", "dev-secret")

	log := logger.New(viper.GetString("APP_ENV"))

	addr := viper.GetString("DEVSERVER_ADDRESS")
	srv := devstub.NewServer(viper.GetString("DEVSERVER_SECRET"), log)

	log.Info("Dev-сервер запущен", "address", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Error("Сервер остановлен", "error", err)
		os.Exit(1)
	}
}
