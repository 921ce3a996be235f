package httpapi

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/i474232898/coverage-aggregation/internal/coverage"
	"github.com/i474232898/coverage-aggregation/internal/geo"
	"github.com/i474232898/coverage-aggregation/internal/geocode"
	"github.com/i474232898/coverage-aggregation/internal/store"
)

var validate = validator.New()

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app. geocoder may be
// nil, in which case address lookups answer 503.
func RegisterRoutes(app *fiber.App, service *coverage.Service, geocoder geocode.Geocoder) {
	v1 := app.Group("/api/v1")

	v1.Post("/coverage/check", func(c *fiber.Ctx) error {
		var body checkRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
		}
		if err := validate.Struct(body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		q, err := body.toQuery()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return runCheck(c, service, q)
	})

	v1.Get("/coverage", func(c *fiber.Ctx) error {
		q, err := parseCoverageQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return runCheck(c, service, q)
	})

	v1.Get("/coverage/compare", func(c *fiber.Ctx) error {
		loc, err := parseLocationQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		st, err := coverage.ParseServiceType(c.Query("service"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "service query parameter must be a known service type")
		}

		comparisons, res, err := service.Compare(c.UserContext(), loc.toCoordinates(), st)
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(fiber.Map{
			"requestId":   res.RequestID,
			"coordinates": res.Coordinates,
			"serviceType": st,
			"comparison":  comparisons,
			"cached":      res.Cached,
		})
	})

	v1.Get("/coverage/address", func(c *fiber.Ctx) error {
		address := strings.TrimSpace(c.Query("address"))
		if address == "" {
			return fiber.NewError(fiber.StatusBadRequest, "address query parameter is required")
		}
		if geocoder == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "address lookup is not configured")
		}

		coords, err := geocoder.Geocode(c.UserContext(), address)
		if err != nil {
			return toHTTPError(err)
		}
		opts, err := parseOptions(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		res, err := service.Check(c.UserContext(), coverage.Query{Coordinates: coords, Options: opts})
		if err != nil {
			return toHTTPError(err)
		}
		return c.JSON(fiber.Map{
			"address":  address,
			"geocoded": coords,
			"result":   res,
		})
	})

	v1.Get("/coverage/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		coords := req.Location.toCoordinates()
		checks, err := service.GetRange(coords, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no coverage checks for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch coverage history")
		}
		return c.JSON(fiber.Map{
			"coordinates": coords,
			"bucket":      store.LocationKey(coords),
			"from":        req.From,
			"to":          req.To,
			"checks":      checks,
		})
	})

	v1.Get("/cache/stats", func(c *fiber.Ctx) error {
		return c.JSON(service.CacheStats())
	})

	v1.Delete("/cache", func(c *fiber.Ctx) error {
		if err := service.ClearCache(c.UserContext()); err != nil {
			zap.L().Warn("httpapi: cache clear incomplete", zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "cache cleared in memory but persistence purge failed")
		}
		return c.JSON(fiber.Map{"cleared": true})
	})

	v1.Get("/providers", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"providers": service.Providers()})
	})
}

func runCheck(c *fiber.Ctx, service *coverage.Service, q coverage.Query) error {
	res, err := service.Check(c.UserContext(), q)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(res)
}

// toHTTPError maps domain errors onto status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, coverage.ErrInvalidQuery),
		errors.Is(err, coverage.ErrUnknownProvider),
		errors.Is(err, geocode.ErrEmptyAddress):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, geocode.ErrNoResult):
		return fiber.NewError(fiber.StatusNotFound, "address could not be resolved")
	case errors.Is(err, coverage.ErrNoProviders),
		errors.Is(err, geocode.ErrNotConfigured):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fiber.NewError(fiber.StatusGatewayTimeout, "request cancelled before coverage check completed")
	default:
		zap.L().Error("httpapi: unexpected error", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "coverage check failed")
	}
}

type coordinatesBody struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
}

type optionsBody struct {
	IncludeAlternatives   *bool `json:"includeAlternatives"`
	PrioritizeReliability *bool `json:"prioritizeReliability"`
	PrioritizeSpeed       *bool `json:"prioritizeSpeed"`
}

// checkRequest is the POST body of a coverage check.
type checkRequest struct {
	Coordinates  *coordinatesBody `json:"coordinates" validate:"required"`
	ServiceTypes []string         `json:"serviceTypes" validate:"omitempty,max=9,dive,required"`
	Providers    []string         `json:"providers" validate:"omitempty,dive,required"`
	Options      *optionsBody     `json:"options"`
}

func (r checkRequest) toQuery() (coverage.Query, error) {
	q := coverage.Query{
		Coordinates: geo.Coordinates{Lat: *r.Coordinates.Lat, Lng: *r.Coordinates.Lng},
		Options:     coverage.DefaultOptions(),
	}
	types, err := parseServiceTypes(r.ServiceTypes)
	if err != nil {
		return q, err
	}
	q.ServiceTypes = types
	for _, p := range r.Providers {
		q.Providers = append(q.Providers, coverage.ProviderID(strings.ToLower(strings.TrimSpace(p))))
	}
	if o := r.Options; o != nil {
		if o.IncludeAlternatives != nil {
			q.Options.IncludeAlternatives = *o.IncludeAlternatives
		}
		if o.PrioritizeReliability != nil {
			q.Options.PrioritizeReliability = *o.PrioritizeReliability
		}
		if o.PrioritizeSpeed != nil {
			q.Options.PrioritizeSpeed = *o.PrioritizeSpeed
		}
	}
	return q, nil
}

func parseServiceTypes(raw []string) ([]coverage.ServiceType, error) {
	var out []coverage.ServiceType
	for _, s := range raw {
		st, err := coverage.ParseServiceType(s)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// locationQuery holds the lat/lng query parameters.
type locationQuery struct {
	Lat float64 `validate:"gte=-90,lte=90"`
	Lng float64 `validate:"gte=-180,lte=180"`
}

func (l locationQuery) toCoordinates() geo.Coordinates {
	return geo.Coordinates{Lat: l.Lat, Lng: l.Lng}
}

func parseLocationQuery(c *fiber.Ctx) (locationQuery, error) {
	var q locationQuery

	latStr, lngStr := c.Query("lat"), c.Query("lng")
	if latStr == "" || lngStr == "" {
		return q, errors.New("lat and lng query parameters are required")
	}
	var err error
	if q.Lat, err = strconv.ParseFloat(latStr, 64); err != nil {
		return q, errors.New("lat must be a number")
	}
	if q.Lng, err = strconv.ParseFloat(lngStr, 64); err != nil {
		return q, errors.New("lng must be a number")
	}

	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

func parseCoverageQuery(c *fiber.Ctx) (coverage.Query, error) {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return coverage.Query{}, err
	}
	q := coverage.Query{Coordinates: loc.toCoordinates()}

	if q.ServiceTypes, err = parseServiceTypes(splitParam(c.Query("services"))); err != nil {
		return q, err
	}
	for _, p := range splitParam(c.Query("providers")) {
		q.Providers = append(q.Providers, coverage.ProviderID(strings.ToLower(p)))
	}
	if q.Options, err = parseOptions(c); err != nil {
		return q, err
	}
	return q, nil
}

func parseOptions(c *fiber.Ctx) (coverage.Options, error) {
	opts := coverage.DefaultOptions()
	for _, f := range []struct {
		name string
		dst  *bool
	}{
		{"alternatives", &opts.IncludeAlternatives},
		{"reliability", &opts.PrioritizeReliability},
		{"speed", &opts.PrioritizeSpeed},
	} {
		raw := c.Query(f.name)
		if raw == "" {
			continue
		}
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New(f.name + " must be true or false")
		}
		*f.dst = b
	}
	return opts, nil
}

func splitParam(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	Location locationQuery
	From     time.Time `validate:"required"`
	To       time.Time `validate:"required,gtefield=From"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocationQuery(c)
	if err != nil {
		return err
	}
	h.Location = loc

	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
