package route

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPlugins(t *testing.T, ps ...Plugin) {
	t.Helper()
	mu.Lock()
	saved := plugins
	plugins = nil
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		plugins = saved
		mu.Unlock()
	})
	for _, p := range ps {
		Register(p)
	}
}

func TestMountRunsLoadersInOrder(t *testing.T) {
	var order []string
	loader := func(name string) RouterLoader {
		return func(r *gin.Engine) error {
			order = append(order, name)
			r.GET("/"+name, func(c *gin.Context) { c.Status(http.StatusNoContent) })
			return nil
		}
	}
	withPlugins(t,
		Plugin{Name: "late", Order: 10, Paths: []string{"/late"}, Loader: loader("late")},
		Plugin{Name: "early", Order: 1, Paths: []string{"/early"}, Loader: loader("early")},
	)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	require.NoError(t, Mount(r))
	assert.Equal(t, []string{"early", "late"}, order)
	assert.Equal(t, []string{"/early", "/late"}, Paths())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/late", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMountStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	called := false
	withPlugins(t,
		Plugin{Name: "broken", Order: 1, Loader: func(*gin.Engine) error { return boom }},
		Plugin{Name: "never", Order: 2, Loader: func(*gin.Engine) error { called = true; return nil }},
	)

	err := Mount(gin.New())
	assert.ErrorIs(t, err, boom)
	assert.False(t, called)
}
