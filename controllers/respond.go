package controllers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"rplportal/models"
	"rplportal/services"
	"rplportal/utils"
)

// writeJSON отправляет ответ в JSON
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.LogError("Ошибка записи ответа: %v", err)
	}
}

// writeError переводит ошибку сервиса в HTTP статус
func writeError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		http.Error(w, validationMessage(verrs), http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrInvalidPaymentPlan),
		errors.Is(err, services.ErrInstallmentSettled):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, services.ErrAlreadyArchived),
		errors.Is(err, services.ErrEmailTaken):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidToken),
		errors.Is(err, services.ErrInvalidCode),
		errors.Is(err, services.ErrCodeExpired),
		errors.Is(err, services.ErrTooManyAttempts):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		utils.LogError("Внутренняя ошибка: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// validationMessage собирает сообщения об ошибках валидации
func validationMessage(verrs validator.ValidationErrors) string {
	var messages []string
	for _, e := range verrs {
		switch e.Tag() {
		case "required", "required_if":
			messages = append(messages, "поле "+e.Field()+" обязательно")
		case "email":
			messages = append(messages, "поле "+e.Field()+" должно быть email")
		case "oneof":
			messages = append(messages, "поле "+e.Field()+" должно быть одним из: "+e.Param())
		case "min", "max", "len", "gte":
			messages = append(messages, "поле "+e.Field()+" нарушает ограничение "+e.Tag()+"="+e.Param())
		default:
			messages = append(messages, "поле "+e.Field()+" заполнено неверно")
		}
	}
	return strings.Join(messages, "; ")
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return services.ErrValidation
	}
	return nil
}
