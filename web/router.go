package web

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/calodon/calodon/accounts"
	"github.com/calodon/calodon/activitypub"
	"github.com/calodon/calodon/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"golang.org/x/time/rate"
)

// Server bundles the HTTP surface with its collaborators. Everything is
// injected; handlers never reach for global state.
type Server struct {
	conf      *util.AppConfig
	directory *accounts.Directory
	service   *activitypub.Service
	ingestor  *activitypub.Ingestor
}

func NewServer(conf *util.AppConfig, directory *accounts.Directory, service *activitypub.Service, ingestor *activitypub.Ingestor) *Server {
	return &Server{conf: conf, directory: directory, service: service, ingestor: ingestor}
}

func (s *Server) Router() error {
	log.Printf("Starting federation server on %s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	g := gin.Default()
	g.Use(gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	g.Use(RateLimitMiddleware(globalLimiter))

	// RSS Feed
	g.GET("/feed", func(c *gin.Context) {

		c.Header("Content-Type", "application/xml; charset=utf-8")

		username := c.Query("username")
		rss, err := s.GetRSS(username)
		if err != nil {
			c.Render(404, render.String{Format: ""})
		} else {
			c.Render(200, render.String{Format: rss})
		}
	})

	if s.conf.Conf.WithFederation {
		// Stricter rate limit for ActivityPub endpoints: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)

		// Max 1MB request body size for ActivityPub activities
		maxBodySize := MaxBytesMiddleware(1 * 1024 * 1024) // 1MB

		g.GET("/users/:actor", func(c *gin.Context) {

			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, actor := s.GetActor(c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: actor})
			} else {
				c.Render(200, render.String{Format: actor})
			}
		})

		g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			actor := c.Param("actor")
			log.Printf("POST /users/%s/inbox", actor)
			s.HandleInbox(c, actor)
		})

		g.GET("/users/:actor/outbox", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			err, collection := s.GetOutbox(c.Param("actor"))
			if err != nil {
				c.Render(404, render.String{Format: collection})
			} else {
				c.Render(200, render.String{Format: collection})
			}
		})

		g.GET("/users/:actor/followers", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.Render(200, render.String{Format: "{}"})
		})

		g.GET("/users/:actor/following", func(c *gin.Context) {
			c.Header("Content-Type", "application/activity+json; charset=utf-8")
			c.Render(200, render.String{Format: "{}"})
		})

		g.GET("/.well-known/webfinger", func(c *gin.Context) {
			c.Header("Content-Type", "application/json; charset=utf-8")

			resource := c.Query("resource")
			if resource == "" || !strings.HasPrefix(resource, "acct:") {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
				return
			}

			resource = strings.TrimPrefix(resource, "acct:")
			resource = strings.TrimSuffix(resource, fmt.Sprintf("@%s", s.conf.Conf.Domain))
			err, resp := s.GetWebfinger(resource)
			if err != nil {
				c.Render(404, render.String{Format: GetWebFingerNotFound()})
			} else {
				c.Render(200, render.String{Format: resp})
			}
		})

	}
	err := g.Run(fmt.Sprintf(":%d", s.conf.Conf.HttpPort))
	if err != nil {
		return err
	}
	return nil
}

// HandleInbox accepts one inbound activity addressed to a local actor.
// Unsupported activity types are the sender's fault (400), everything past
// parsing is answered 202 because processing continues asynchronously.
func (s *Server) HandleInbox(c *gin.Context, actor string) {
	body, err := c.GetRawData()
	if err != nil {
		log.Printf("Inbox: Failed to read body: %v", err)
		c.Status(400)
		return
	}

	activity, err := activitypub.ActivityFromJSON(body)
	if err != nil {
		var unsupported *activitypub.UnsupportedActivityTypeError
		if errors.As(err, &unsupported) {
			c.JSON(400, gin.H{"error": unsupported.Error()})
			return
		}
		log.Printf("Inbox: Failed to parse activity: %v", err)
		c.Status(400)
		return
	}

	account, err := s.directory.GetAccountByUsername(actor, s.directory.Domain())
	if err != nil || account == nil {
		c.JSON(404, gin.H{"error": "account not found"})
		return
	}

	if err := s.ingestor.AddToInbox(account, activity); err != nil {
		log.Printf("Inbox: Failed to ingest activity %s: %v", activity.Id, err)
		c.Status(500)
		return
	}

	c.Status(202)
}
