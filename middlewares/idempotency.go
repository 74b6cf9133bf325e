package middlewares

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"invoicesnap-backend/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Idempotency processes Idempotency-Key for mutating HTTP methods. Keys are
// scoped to the authenticated user; run it after IsAuthenticatedHeader.
// Only successful responses are replayed.
func Idempotency(db *gorm.DB, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		method := strings.ToUpper(c.Method())
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch && method != fiber.MethodDelete {
			return c.Next()
		}

		key := strings.TrimSpace(c.Get("Idempotency-Key"))
		if key == "" {
			return c.Next()
		}
		if len(key) > 128 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "Idempotency-Key too long"})
		}

		userID, _ := c.Locals(localUserID).(string)
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "auth context missing"})
		}

		path := c.OriginalURL() // includes query string

		// Build deterministic request hash: method|path|body|user
		h := sha256.New()
		h.Write([]byte(method))
		h.Write([]byte{'\n'})
		h.Write([]byte(path))
		h.Write([]byte{'\n'})
		h.Write(c.Body())
		h.Write([]byte{'\n'})
		h.Write([]byte(userID))
		reqHash := hex.EncodeToString(h.Sum(nil))

		ctx := c.UserContext()
		scope := db.WithContext(ctx).Where("user_id = ? AND key = ?", userID, key)

		// Phase 1: find or claim the key.
		var existing models.IdempotencyKey
		err := scope.Session(&gorm.Session{}).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec := models.IdempotencyKey{UserID: userID, Key: key, RequestHash: reqHash, Method: method, Path: path}
			if err := db.WithContext(ctx).Create(&rec).Error; err != nil {
				// Lost a race with a concurrent request using the same key.
				return fiber.NewError(fiber.StatusConflict, "request with this Idempotency-Key is in progress")
			}
		case err != nil:
			return fiber.NewError(fiber.StatusInternalServerError, "idempotency lookup failed")
		default:
			if existing.RequestHash != reqHash {
				return fiber.NewError(fiber.StatusConflict, "Idempotency-Key reuse with different request")
			}
			if existing.ResponseStatus == 0 {
				return fiber.NewError(fiber.StatusConflict, "request with this Idempotency-Key is in progress")
			}
			c.Set("Idempotent-Replayed", "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(existing.ResponseStatus).Send(existing.ResponseBody)
		}

		release := func() {
			if err := scope.Session(&gorm.Session{}).Delete(&models.IdempotencyKey{}).Error; err != nil {
				log.Warn("idempotency release failed", zap.String("user_id", userID), zap.Error(err))
			}
		}

		if err := c.Next(); err != nil {
			release()
			return err
		}
		status := c.Response().StatusCode()
		if status >= fiber.StatusBadRequest {
			release()
			return nil
		}

		// Phase 2: store the response. Best effort, the response is already built.
		now := time.Now().UTC()
		blob := append([]byte(nil), c.Response().Body()...)
		if err := scope.Session(&gorm.Session{}).Model(&models.IdempotencyKey{}).Updates(map[string]any{
			"response_status": status,
			"response_body":   blob,
			"completed_at":    &now,
		}).Error; err != nil {
			log.Warn("idempotency store failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
}
