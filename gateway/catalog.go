package gateway

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/example/tableside/pkg/models"
)

func (g *Gateway) requireCatalog(c *gin.Context) bool {
	if g.catalog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "catalog unavailable"})
		return false
	}
	return true
}

func (g *Gateway) createCategory(c *gin.Context) {
	if !g.requireCatalog(c) {
		return
	}
	var cat models.Category
	if err := c.ShouldBindJSON(&cat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := g.catalog.CreateCategory(c.Request.Context(), &cat); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cat)
}

func (g *Gateway) listCategories(c *gin.Context) {
	if !g.requireCatalog(c) {
		return
	}
	categories, err := g.catalog.ListCategories(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories, "total": len(categories)})
}

func (g *Gateway) createProduct(c *gin.Context) {
	if !g.requireCatalog(c) {
		return
	}
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := g.catalog.CreateProduct(c.Request.Context(), &p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (g *Gateway) getProduct(c *gin.Context) {
	if !g.requireCatalog(c) {
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product id"})
		return
	}
	p, err := g.catalog.GetProduct(c.Request.Context(), uint(id))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (g *Gateway) listProducts(c *gin.Context) {
	if !g.requireCatalog(c) {
		return
	}
	var categoryID uint
	if raw := c.Query("categoryId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
			return
		}
		categoryID = uint(id)
	}
	products, err := g.catalog.ListProducts(c.Request.Context(), categoryID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"products": products, "total": len(products)})
}
