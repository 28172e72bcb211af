package request

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/dates"
)

var (
	referencePattern = regexp.MustCompile(`^BK-[0-9A-Z]{12}$`)
	registerOnce     sync.Once
	registerErr      error
)

// RegisterValidators adds the custom binding rules used by request DTOs to gin's validator:
//
//	isodate    - YYYY-MM-DD calendar date
//	bookingref - BK- followed by 12 upper-case alphanumerics
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
			return
		}
		if err := v.RegisterValidation("isodate", isISODate); err != nil {
			registerErr = err
			return
		}
		registerErr = v.RegisterValidation("bookingref", isBookingRef)
	})
	return registerErr
}

func isISODate(fl validator.FieldLevel) bool {
	_, err := dates.Parse(fl.Field().String())
	return err == nil
}

func isBookingRef(fl validator.FieldLevel) bool {
	return referencePattern.MatchString(fl.Field().String())
}
