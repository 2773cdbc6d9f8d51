package authapi

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	auth "github.com/goliatone/go-budget-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// DefaultPrefix is the route group the controller is mounted on
const DefaultPrefix = "/auth"

// NewApp builds a fiber app serving the controller under prefix
func NewApp(controller *Controller, prefix ...string) *fiber.App {
	group := DefaultPrefix
	if len(prefix) > 0 {
		group = prefix[0]
	}

	app := fiber.New(fiber.Config{
		AppName:               "budgetwise-auth",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(controller.Logger),
	})

	app.Use(recover.New())

	controller.Register(app.Group(group))

	return app
}

// ErrorHandler renders unhandled errors with the auth error envelope
func ErrorHandler(logger auth.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = auth.NoopLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
			return c.Status(status).JSON(fiber.Map{
				"error": auth.AuthError{Code: auth.CodeUnknown, Message: fiberErr.Message},
			})
		}

		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			logger.Error("auth api error on %s %s: %s", c.Method(), c.Path(), print.MaybePrettyJSON(richErr))
		} else {
			logger.Error("auth api error on %s %s: %v", c.Method(), c.Path(), err)
		}

		res := auth.Fail[struct{}](err)
		return c.Status(status).JSON(fiber.Map{"error": res.Error})
	}
}
