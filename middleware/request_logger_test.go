package middleware

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetFormatter(&logrus.JSONFormatter{})

	app := fiber.New()
	app.Use(RequestLogger(log))
	var seen string
	app.Get("/ok", func(c *fiber.Ctx) error {
		seen = RequestID(c)
		return c.SendString("ok")
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "nope")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/ok", nil), -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	header := resp.Header.Get(fiber.HeaderXRequestID)
	if header == "" || header != seen {
		t.Errorf("X-Request-ID %q does not match the id in locals %q", header, seen)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["request_id"] != seen || entry["level"] != "info" || entry["status_code"] != float64(200) {
		t.Errorf("unexpected log entry %v", entry)
	}

	buf.Reset()
	if _, err := app.Test(httptest.NewRequest("GET", "/missing", nil), -1); err != nil {
		t.Fatalf("request: %v", err)
	}
	entry = nil
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if entry["level"] != "warning" || entry["status_code"] != float64(404) {
		t.Errorf("expected a warning for a 404, got %v", entry)
	}
}
