package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func NewRouter(sessions *SessionHandler, instances *InstanceHandler, localRegion string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(RequestIDMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:    "ok",
			Region:    localRegion,
			Timestamp: formatTime(time.Now()),
		})
	})

	// Per-region surface. Other regions call this directly for compute that
	// lives here.
	local := r.Group("/local/v1")
	{
		local.POST("/instance", instances.LaunchLocal)
		local.GET("/instance/:job_id", instances.StatusLocal)
		local.DELETE("/instance/:job_id", instances.TerminateLocal)
	}

	v1 := r.Group("/v1")
	{
		// Region-agnostic facade: any region answers for any job id.
		v1.POST("/instance", instances.Launch)
		v1.GET("/instance/:job_id", instances.Status)
		v1.DELETE("/instance/:job_id", instances.Terminate)

		sess := v1.Group("/sessions")
		{
			sess.POST("", sessions.CreateSession)
			sess.GET("", sessions.ListSessions)
			sess.GET("/:id", sessions.GetSession)
			sess.PUT("/:id", sessions.UpdateSession)
			sess.DELETE("/:id", sessions.DeleteSession)
			sess.DELETE("/:id/instance", sessions.TerminateInstance)
			sess.GET("/:id/events", sessions.StreamEvents)
		}
	}

	return r
}
