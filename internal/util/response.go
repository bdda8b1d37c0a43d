package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the body of a successful reply.
type Response map[string]interface{}

// Success writes 200 with data as the body.
func Success(c *gin.Context, data Response) {
	c.JSON(http.StatusOK, data)
}

// Created writes 201 with data as the body.
func Created(c *gin.Context, data Response) {
	c.JSON(http.StatusCreated, data)
}

// Error writes the uniform error body {"message": msg}.
func Error(c *gin.Context, httpStatus int, msg string) {
	c.JSON(httpStatus, gin.H{"message": msg})
}

// ValidationFailed writes 400 with per-field messages.
func ValidationFailed(c *gin.Context, msg string, fields map[string]string) {
	body := gin.H{"message": msg}
	if len(fields) > 0 {
		body["errors"] = fields
	}
	c.JSON(http.StatusBadRequest, body)
}
