package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/helpdesk/internal/api/http/handlers"
	"github.com/spec-kit/helpdesk/internal/auth"
	"github.com/spec-kit/helpdesk/internal/chat"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Users          *handlers.UsersHandler
	Tickets        *handlers.TicketsHandler
	AuthMiddleware *auth.AuthMiddleware
	ChatDeps       chat.SessionDependencies
}

// RegisterRoutes wires HTTP and websocket routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	// Token is checked before the upgrade; the register frame then
	// names the participant, which is the contract every client of
	// the chat protocol speaks.
	app.Use("/ws", cfg.AuthMiddleware.HandleUpgrade, chat.UpgradeRequired())
	app.Get("/ws", chat.Handler(cfg.ChatDeps))

	authGroup := app.Group("/auth")
	authGroup.Post("/registrar", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)
	authGroup.Post("/senha/redefinir", cfg.Users.RequestPasswordReset)
	authGroup.Post("/senha/confirmar", cfg.Users.ConfirmPasswordReset)

	authProtected := authGroup.Group("", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	authProtected.Get("/me", cfg.Users.Me)
	authProtected.Post("/senha/alterar", cfg.Users.ChangePassword)

	tickets := app.Group("/chamados", cfg.AuthMiddleware.Handle, auth.RequireAuthenticated())
	tickets.Post("", cfg.Tickets.CreateTicket)
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Patch("/:id/status", cfg.Tickets.ChangeStatus)
	tickets.Post("/:id/respostas", cfg.Tickets.SendEmailMessage)
	tickets.Get("/:id/participantes", auth.RequireAdmin(), cfg.Tickets.Participants)
}
