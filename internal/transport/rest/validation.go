package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"academy-ledger/internal/service"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// report json names, not struct field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags.
// The first failing field is reported.
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &ValidationError{Message: "invalid JSON"}
	}
	err := validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: fieldMessage(fe)}
	}
	return err
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

type PaymentRequestBody struct {
	StudentID         string          `json:"studentId" validate:"notblank"`
	Amount            decimal.Decimal `json:"amount"`
	PaymentMode       string          `json:"paymentMode" validate:"notblank"`
	PaymentDate       string          `json:"paymentDate"`
	PaymentOption     string          `json:"paymentOption"`
	PayerType         string          `json:"payerType"`
	PayerName         string          `json:"payerName"`
	PaymentSubType    string          `json:"paymentSubType"`
	InstallmentNumber *int            `json:"installmentNumber" validate:"omitempty,min=1"`
	EMINumber         *int            `json:"emiNumber" validate:"omitempty,min=1"`
	InstallmentCount  int             `json:"installmentCount" validate:"min=0"`
	CourseDuration    int             `json:"courseDuration" validate:"min=0"`
	NextPaymentDate   string          `json:"nextPaymentDate"`
	ReminderFrequency string          `json:"reminderFrequency"`
	StopReminders     bool            `json:"stopReminders"`
	ReceivedBy        string          `json:"receivedBy"`
	Notes             string          `json:"notes"`
	ExpectedVersion   *int64          `json:"expectedVersion" validate:"omitempty,min=0"`
}

func (b PaymentRequestBody) ToServiceRequest() service.PaymentRequest {
	return service.PaymentRequest{
		StudentID:         strings.TrimSpace(b.StudentID),
		Amount:            b.Amount,
		PaymentMode:       b.PaymentMode,
		PaymentDate:       b.PaymentDate,
		PaymentOption:     b.PaymentOption,
		PayerType:         b.PayerType,
		PayerName:         b.PayerName,
		PaymentSubType:    b.PaymentSubType,
		InstallmentNumber: b.InstallmentNumber,
		EMINumber:         b.EMINumber,
		InstallmentCount:  b.InstallmentCount,
		CourseDuration:    b.CourseDuration,
		NextPaymentDate:   b.NextPaymentDate,
		ReminderFrequency: b.ReminderFrequency,
		StopReminders:     b.StopReminders,
		ReceivedBy:        b.ReceivedBy,
		Notes:             b.Notes,
		ExpectedVersion:   b.ExpectedVersion,
	}
}

type SubscriptionRequestBody struct {
	PaymentRequestBody

	WithDiscounts        bool            `json:"withDiscounts"`
	MonthlyFee           decimal.Decimal `json:"monthlyFee"`
	DiscountedMonthlyFee decimal.Decimal `json:"discountedMonthlyFee"`
	CommitmentPeriod     int             `json:"commitmentPeriod" validate:"min=0"`
}

func (b SubscriptionRequestBody) ToServiceRequest() service.SubscriptionRequest {
	return service.SubscriptionRequest{
		PaymentRequest:       b.PaymentRequestBody.ToServiceRequest(),
		WithDiscounts:        b.WithDiscounts,
		MonthlyFee:           b.MonthlyFee,
		DiscountedMonthlyFee: b.DiscountedMonthlyFee,
		CommitmentPeriod:     b.CommitmentPeriod,
	}
}

func toStringPtr(v any) (*string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		return &t, nil
	case float64:
		s := strconv.FormatInt(int64(t), 10)
		return &s, nil
	default:
		return nil, &ValidationError{Message: "invalid type for string field"}
	}
}

func toDatePtr(v any) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		parsed, err := time.Parse("2006-01-02", t)
		if err != nil {
			return nil, err
		}
		return &parsed, nil
	default:
		return nil, &ValidationError{Message: "invalid type for date field"}
	}
}
