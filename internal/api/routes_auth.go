package api

import (
	"github.com/gin-gonic/gin"

	"github.com/pulsecare/pulsecare/internal/app"
	iauth "github.com/pulsecare/pulsecare/internal/auth"
	"github.com/pulsecare/pulsecare/internal/handlers"
	"github.com/pulsecare/pulsecare/internal/middleware"
)

func registerAuthRoutes(r *gin.Engine, sessions *iauth.SessionController, cfg *app.Config, rates middleware.RateStore) {
	handler := handlers.NewAuthHandler(sessions)

	var limit gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		limit = middleware.RateLimit(rates, cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	} else {
		limit = func(c *gin.Context) { c.Next() }
	}

	auth := r.Group("/api/auth")
	{
		// Code issuance and consumption sit behind the limiter so a client
		// cannot brute-force codes or flood the notification gateway.
		auth.POST("/signup", limit, handler.SignUp)
		auth.POST("/signin", limit, handler.SignIn)
		auth.POST("/verify", limit, handler.Verify)
		auth.POST("/resend", limit, handler.Resend)

		auth.POST("/signout", handler.SignOut)
		auth.DELETE("/account", handler.DeleteAccount)
		auth.GET("/session", handler.Session)
		auth.GET("/watch", handler.Watch)
	}
}
