package providers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/i474232898/district-airquality/internal/weather"
)

var validate = validator.New()

// statusCode decodes OpenWeather's "cod", which is a number on success and
// sometimes a string ("404") on errors.
type statusCode int

func (c *statusCode) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("cod %s: %w", b, err)
	}
	*c = statusCode(n)
	return nil
}

// weatherPayload is the subset of /data/2.5/weather we persist.
// Pointer fields distinguish "absent" from a legitimate zero.
type weatherPayload struct {
	Cod        *statusCode        `json:"cod" validate:"required"`
	Message    json.RawMessage    `json:"message,omitempty"`
	Weather    []weatherCondition `json:"weather" validate:"required,min=1,dive"`
	Main       *weatherMain       `json:"main" validate:"required"`
	Visibility *float64           `json:"visibility"`
	Wind       *weatherWind       `json:"wind" validate:"required"`
}

type weatherCondition struct {
	Main        *string `json:"main" validate:"required"`
	Description *string `json:"description" validate:"required"`
}

type weatherMain struct {
	Temp      *float64 `json:"temp" validate:"required"`
	TempMin   *float64 `json:"temp_min" validate:"required"`
	TempMax   *float64 `json:"temp_max" validate:"required"`
	FeelsLike *float64 `json:"feels_like" validate:"required"`
	Pressure  *float64 `json:"pressure" validate:"required"`
	Humidity  *float64 `json:"humidity" validate:"required"`
}

type weatherWind struct {
	Speed *float64 `json:"speed" validate:"required"`
	Deg   *float64 `json:"deg" validate:"required"`
}

// pollutionPayload is /data/2.5/air_pollution. Only the first sample is used.
type pollutionPayload struct {
	List []pollutionSample `json:"list"`
}

type pollutionSample struct {
	Components *pollutionComponents `json:"components" validate:"required"`
}

type pollutionComponents struct {
	CO   *float64 `json:"co" validate:"required"`
	NO   *float64 `json:"no" validate:"required"`
	NO2  *float64 `json:"no2" validate:"required"`
	O3   *float64 `json:"o3" validate:"required"`
	SO2  *float64 `json:"so2" validate:"required"`
	PM25 *float64 `json:"pm2_5" validate:"required"`
	PM10 *float64 `json:"pm10" validate:"required"`
	NH3  *float64 `json:"nh3" validate:"required"`
}

// successCode is the "cod" value OpenWeather reports for a good response.
const successCode = 200

// decodeWeather parses a weather body. A non-200 "cod" yields ErrBadStatus;
// anything structurally wrong yields ErrMalformedPayload.
func decodeWeather(body []byte) (*weatherPayload, error) {
	var p weatherPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrMalformedPayload, err)
	}
	if p.Cod == nil {
		return nil, fmt.Errorf("%w: missing cod", weather.ErrMalformedPayload)
	}
	if int(*p.Cod) != successCode {
		return nil, fmt.Errorf("%w: cod=%d message=%s", weather.ErrBadStatus, int(*p.Cod), string(p.Message))
	}
	if err := validate.Struct(p); err != nil {
		return nil, describeValidation(err)
	}
	return &p, nil
}

// decodePollution parses a pollution body. An absent or empty list is a
// failure, never a row of zeros.
func decodePollution(body []byte) (*pollutionComponents, error) {
	var p pollutionPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrMalformedPayload, err)
	}
	if len(p.List) == 0 {
		return nil, fmt.Errorf("%w: %w", weather.ErrMalformedPayload, weather.ErrEmptyPollution)
	}
	first := p.List[0]
	if err := validate.Struct(first); err != nil {
		return nil, describeValidation(err)
	}
	return first.Components, nil
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", weather.ErrMalformedPayload, err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
	}
	return fmt.Errorf("%w: missing or invalid %s", weather.ErrMalformedPayload, strings.Join(fields, ", "))
}
