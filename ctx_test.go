package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-auth-server"
)

func TestContextRoundTrip(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Email: "ctx@example.com"}

	ctx := auth.WithContext(context.Background(), user)
	got, ok := auth.FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, user, got)

	_, ok = auth.FromContext(context.Background())
	assert.False(t, ok)

	_, ok = auth.FromContext(auth.WithContext(context.Background(), nil))
	assert.False(t, ok)

	_, ok = auth.FromContext(nil)
	assert.False(t, ok)
}

func TestSetCurrentUser(t *testing.T) {
	user := &auth.User{ID: uuid.New(), Email: "locals@example.com"}

	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		_, ok := auth.CurrentUser(c)
		assert.False(t, ok)

		auth.SetCurrentUser(c, "", user)

		current, ok := auth.CurrentUser(c)
		assert.True(t, ok)
		assert.Equal(t, user.ID, current.ID)

		local, ok := c.Locals(auth.DefaultContextKey).(*auth.User)
		assert.True(t, ok)
		assert.Equal(t, user.ID, local.ID)

		fromCtx, ok := auth.FromContext(c.UserContext())
		assert.True(t, ok)
		assert.Equal(t, user.ID, fromCtx.ID)

		return c.SendStatus(http.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
