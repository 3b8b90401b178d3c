package server

import (
	"lostnfound-shop/internal/catalog"
	"lostnfound-shop/internal/handler"
	"lostnfound-shop/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	echo           *echo.Echo
	paymentHandler *handler.PaymentHandler
	catalogHandler *handler.CatalogHandler
}

func NewServer(paymentService service.PaymentService, cat *catalog.Catalog) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:           e,
		paymentHandler: handler.NewPaymentHandler(paymentService),
		catalogHandler: handler.NewCatalogHandler(cat),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	api.GET("/products", s.catalogHandler.ListProducts)
	api.POST("/sales", s.paymentHandler.CreateSale)
	api.GET("/sales/recent", s.paymentHandler.RecentSales)
	api.GET("/sales/:id", s.paymentHandler.ReceiptJSON)

	// -------- checkout --------
	checkout := api.Group("/checkout")
	checkout.POST("/:provider", s.paymentHandler.Checkout)
	checkout.GET("/:provider/success", s.paymentHandler.ConfirmReturn)

	// -------- provider webhooks --------
	api.POST("/webhooks/:provider", s.paymentHandler.Webhook)

	// buyer-facing receipt page
	s.echo.GET("/receipt/:id", s.paymentHandler.Receipt)
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown() error {
	return s.echo.Close()
}
