package offline

import (
	"sort"
	"strings"
)

// CacheKey строит канонический ключ кэша: URL плюс JSON-объект параметров,
// пересобранный в лексикографическом порядке ключей. Два логически
// одинаковых запроса с разным порядком параметров дают один и тот же ключ.
func CacheKey(desc RequestDescriptor) string {
	return desc.URL + "_" + sortedParamsJSON(desc.Query)
}

func sortedParamsJSON(params map[string]string) string {
	if len(params) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(escapeJSON(k))
		b.WriteString(`":"`)
		b.WriteString(escapeJSON(params[k]))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}

func escapeJSON(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return replacer.Replace(s)
}
