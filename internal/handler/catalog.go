package handler

import (
	"net/http"

	"lostnfound-shop/internal/catalog"

	"github.com/labstack/echo/v4"
)

type CatalogHandler struct {
	catalog *catalog.Catalog
}

func NewCatalogHandler(cat *catalog.Catalog) *CatalogHandler {
	return &CatalogHandler{catalog: cat}
}

func (h *CatalogHandler) ListProducts(c echo.Context) error {
	return c.JSON(http.StatusOK, h.catalog.Entries())
}
