package web

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"taskfire/internal/models"
)

type DataMap struct {
	Data map[string]interface{}
}

func NewPaginatedDataMap[T any](data models.PaginationResult[T]) DataMap {
	return DataMap{
		Data: map[string]interface{}{
			"Page":            data.Page,
			"TotalPages":      data.TotalPages,
			"Items":           data.Items,
			"HasPreviousPage": data.HasPreviousPage,
			"HasNextPage":     data.HasNextPage,
			"TotalItems":      data.TotalItems,
		},
	}
}

func (d DataMap) Add(key string, value interface{}) DataMap {
	d.Data[key] = value
	return d
}

func getPageNumber(r *http.Request) int {
	page := r.URL.Query().Get("page")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		pageNumber = 1
	}
	return int(pageNumber)
}

func getInt64Param(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Println("Error encoding JSON:", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func printBanner(addr string) {
	width := 46
	fmt.Println("##############################################")
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Printf("# %-*s #\n", width-4, "TaskFire Started")
	fmt.Printf("# %-*s #\n", width-4, fmt.Sprintf("TaskFire API running on %s", addr))
	fmt.Printf("# %-*s #\n", width-4, "")
	fmt.Println("##############################################")
}
