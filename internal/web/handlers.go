package web

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ebalodis/faceframe/internal/health"
	"github.com/ebalodis/faceframe/internal/record"
	"github.com/ebalodis/faceframe/internal/service"
)

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<title>faceframe</title>
<style>
body { background: #111; color: #ddd; font-family: monospace; text-align: center; }
img { max-width: 90vw; border: 1px solid #333; margin-top: 1em; }
a { color: #6af; }
</style>
</head>
<body>
<h3>faceframe overlay</h3>
<img src="/stream/overlay.mjpeg" alt="overlay stream">
<p><a href="/api/status">status</a> &middot; <a href="/api/detections">detections</a> &middot; <a href="/api/stats">stats</a></p>
</body>
</html>
`

// handleIndex serves the built-in overlay viewer page
func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexHTML))
}

// handleHealth serves the aggregated health report, or a basic liveness
// payload when no health manager is wired
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "web-server",
		})
		return
	}

	report := s.health.Check(c.Request.Context())
	code := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

// handleLiveness reports that the process is alive
func (s *Server) handleLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleReadiness reports whether the system can serve traffic
func (s *Server) handleReadiness(c *gin.Context) {
	ready := true
	status := health.StatusHealthy
	if s.health != nil {
		report := s.health.Check(c.Request.Context())
		status = report.Status
		ready = report.Status != health.StatusUnhealthy
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status": status,
		"ready":  ready,
	})
}

// handleStatus handles the system status endpoint
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	healthState := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		healthState = "unhealthy"
	}

	resp := gin.H{
		"status":         healthState,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
	}

	if s.pipeline != nil {
		stats := s.pipeline.Stats()
		resp["sensor"] = gin.H{
			"active":             stats.ActiveSensor,
			"effective_rotation": stats.EffectiveRotation,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleDetections returns the latest published DetectionSet, or 204
// before the first publication
func (s *Server) handleDetections(c *gin.Context) {
	if s.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Pipeline not available",
		})
		return
	}

	set := s.pipeline.Current()
	if set == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, set)
}

// handleStats returns pipeline and overlay counters
func (s *Server) handleStats(c *gin.Context) {
	if s.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Pipeline not available",
		})
		return
	}

	resp := gin.H{
		"pipeline": s.pipeline.Stats(),
	}
	if s.renderer != nil {
		resp["overlay"] = gin.H{
			"renders": s.renderer.Renders(),
		}
	}

	c.JSON(http.StatusOK, resp)
}

// handleListSensors lists the configured sensors and which one is active
func (s *Server) handleListSensors(c *gin.Context) {
	if s.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Pipeline not available",
		})
		return
	}

	sensors := s.pipeline.Sensors()
	c.JSON(http.StatusOK, gin.H{
		"sensors": sensors,
		"active":  s.pipeline.ActiveSensor().ID,
		"count":   len(sensors),
	})
}

// handleActivateSensor switches the pipeline to another sensor
func (s *Server) handleActivateSensor(c *gin.Context) {
	if s.pipeline == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Pipeline not available",
		})
		return
	}

	sensorID := c.Param("id")

	known := false
	for _, sensor := range s.pipeline.Sensors() {
		if sensor.ID == sensorID {
			known = true
			break
		}
	}
	if !known {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("unknown sensor %q", sensorID),
		})
		return
	}

	if err := s.pipeline.SwitchSensor(c.Request.Context(), sensorID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": err.Error(),
		})
		return
	}

	stats := s.pipeline.Stats()
	c.JSON(http.StatusOK, gin.H{
		"active":             stats.ActiveSensor,
		"effective_rotation": stats.EffectiveRotation,
	})
}

// handleResizeSurface resizes the overlay render surface
func (s *Server) handleResizeSurface(c *gin.Context) {
	if s.renderer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Overlay renderer not available",
		})
		return
	}

	var req struct {
		Width  int `json:"width" binding:"required"`
		Height int `json:"height" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	if err := s.renderer.Resize(req.Width, req.Height); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"width":  req.Width,
		"height": req.Height,
	})
}

// handleListRecordings lists stored detection sets with filters
func (s *Server) handleListRecordings(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Detection recorder not available",
		})
		return
	}

	opts := record.ListOptions{
		SensorID: c.Query("sensor_id"),
	}

	if v := c.Query("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since timestamp"})
			return
		}
		opts.Since = ts
	}
	if v := c.Query("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid until timestamp"})
			return
		}
		opts.Until = ts
	}
	if v := c.Query("min_faces"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid min_faces"})
			return
		}
		opts.MinFaces = n
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		opts.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		opts.Offset = n
	}

	records, total, err := s.store.ListSets(c.Request.Context(), opts)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if records == nil {
		records = []record.SetRecord{}
	}
	c.JSON(http.StatusOK, gin.H{
		"recordings": records,
		"count":      len(records),
		"total":      total,
	})
}

// handleGetRecording returns one stored detection set
func (s *Server) handleGetRecording(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Detection recorder not available",
		})
		return
	}

	rec, err := s.store.GetSet(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recording not found"})
		return
	}

	c.JSON(http.StatusOK, rec)
}

// handleOverlaySnapshot serves the current overlay as a single JPEG
func (s *Server) handleOverlaySnapshot(c *gin.Context) {
	if s.surface == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Overlay surface not available",
		})
		return
	}

	data, err := s.encodeOverlayJPEG()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// handleOverlayStream serves the overlay as an MJPEG stream at ~10 FPS
func (s *Server) handleOverlayStream(c *gin.Context) {
	if s.surface == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Overlay surface not available",
		})
		return
	}

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=--frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering if behind proxy

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Streaming not supported",
		})
		return
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ticker.C:
			data, err := s.encodeOverlayJPEG()
			if err != nil {
				return false
			}
			fmt.Fprintf(w, "--frame\r\n")
			fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
			fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(data))
			w.Write(data)
			fmt.Fprintf(w, "\r\n")
			flusher.Flush()
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// encodeOverlayJPEG composites the overlay onto an opaque background
// and encodes it. JPEG has no alpha channel, so the transparent surface
// background becomes dark gray.
func (s *Server) encodeOverlayJPEG() ([]byte, error) {
	overlayImg := s.surface.Snapshot()
	bounds := overlayImg.Bounds()

	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, image.NewUniform(color.RGBA{R: 0x10, G: 0x10, B: 0x10, A: 0xFF}), image.Point{}, draw.Src)
	draw.Draw(out, bounds, overlayImg, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
