package delivery

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"marketplace-checkout/internal/domain"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)

// ErrInvalidLocation is returned for a zero or non-finite map point.
var ErrInvalidLocation = errors.New("invalid location")

// Point is a geocoded location.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether both coordinates are set and finite.
func (p Point) Valid() bool {
	return validCoordinate(p.Latitude) && validCoordinate(p.Longitude)
}

func validCoordinate(v float64) bool {
	return v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// FieldErrors maps JSON field names to a message.
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+f[k])
	}
	return "invalid delivery details: " + strings.Join(parts, "; ")
}

// Validator checks delivery forms.
type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the phone and finite-number rules.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return &Validator{validate: v}
}

// Normalize trims every text field.
func Normalize(info domain.DeliveryInfo) domain.DeliveryInfo {
	info.CustomerName = strings.TrimSpace(info.CustomerName)
	info.PhoneNumber = strings.TrimSpace(info.PhoneNumber)
	info.Email = strings.TrimSpace(info.Email)
	info.Address = strings.TrimSpace(info.Address)
	info.City = strings.TrimSpace(info.City)
	info.State = strings.TrimSpace(info.State)
	info.ZipCode = strings.TrimSpace(info.ZipCode)
	info.DeliveryInstructions = strings.TrimSpace(info.DeliveryInstructions)
	return info
}

// Validate normalizes the form and returns it, or FieldErrors.
func (v *Validator) Validate(info domain.DeliveryInfo) (domain.DeliveryInfo, error) {
	info = Normalize(info)
	err := v.validate.Struct(info)
	if err == nil {
		return info, nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return info, fmt.Errorf("validate delivery: %w", err)
	}
	fields := FieldErrors{}
	for _, fe := range verrs {
		fields[fe.Field()] = message(fe)
	}
	return info, fields
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Field() == "latitude" || fe.Field() == "longitude" {
			return "select a delivery location"
		}
		return "is required"
	case "phone":
		return "must be 7 to 15 digits, optionally starting with +"
	case "email":
		return "must be a valid email address"
	case "finite":
		return "must be a finite number"
	default:
		return "is invalid"
	}
}

// Picker tracks the map point chosen for delivery. It starts at a fallback
// reference point until the shopper picks a location.
type Picker struct {
	mu     sync.Mutex
	point  Point
	picked bool
}

func NewPicker(fallback Point) *Picker {
	return &Picker{point: fallback}
}

// Pick records a map selection.
func (p *Picker) Pick(lat, lng float64) error {
	pt := Point{Latitude: lat, Longitude: lng}
	if !pt.Valid() {
		return ErrInvalidLocation
	}
	p.mu.Lock()
	p.point = pt
	p.picked = true
	p.mu.Unlock()
	return nil
}

// Current returns the point and whether the shopper picked it.
func (p *Picker) Current() (Point, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.point, p.picked
}

// Apply fills missing coordinates in a form with the current point.
func (p *Picker) Apply(info domain.DeliveryInfo) domain.DeliveryInfo {
	pt, _ := p.Current()
	if !validCoordinate(info.Latitude) || !validCoordinate(info.Longitude) {
		info.Latitude = pt.Latitude
		info.Longitude = pt.Longitude
	}
	return info
}
