package api

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nirogai/backend/internal/util"
)

const (
	requestIDHeader  = "X-Request-ID"
	correlationIDKey = "correlation_id"
)

// correlationID reuses a well-formed inbound request id or mints a new one.
func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := util.StartTimer()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		entry := logEntry(c).WithFields(timer.Fields()).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   path,
			"status": c.Writer.Status(),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

func logEntry(c *gin.Context) *logrus.Entry {
	return logrus.WithField(correlationIDKey, c.GetString(correlationIDKey))
}
