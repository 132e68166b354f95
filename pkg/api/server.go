// Package api provides the REST API server for midicv
package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gitlab.com/gomidi/midi/v2"

	"github.com/james-see/midicv/pkg/cv"
	"github.com/james-see/midicv/pkg/midiin"
	"github.com/james-see/midicv/pkg/notestack"
	"github.com/james-see/midicv/pkg/patch"
)

// @title midicv API
// @version 1.0
// @description API for inspecting and reconfiguring a MIDI to CV converter
// @host localhost:8080
// @BasePath /api/v1

// Server exposes an engine over HTTP. Injected events go through the same
// router as live MIDI.
type Server struct {
	engine *cv.Engine
	stacks *notestack.Bank
	router *midiin.Router
}

// NewServer creates a server for an engine and its note stacks.
func NewServer(engine *cv.Engine, stacks *notestack.Bank, router *midiin.Router) *Server {
	return &Server{engine: engine, stacks: stacks, router: router}
}

// Handler builds the gin engine with all routes.
func (s *Server) Handler() *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(corsMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/outputs", s.listOutputs)
		v1.GET("/outputs/:index", s.getOutput)
		v1.POST("/outputs/:index/nrpn", s.reconfigure)
		v1.POST("/reset", s.reset)

		events := v1.Group("/events")
		events.POST("/noteon", s.noteOn)
		events.POST("/noteoff", s.noteOff)
		events.POST("/cc", s.controlChange)
		events.POST("/aftertouch", s.aftertouch)
		events.POST("/bend", s.pitchBend)
		events.POST("/tempo", s.tempo)

		v1.GET("/config", s.getConfig)
		v1.PUT("/config", s.putConfig)
		v1.GET("/patch.syx", s.getPatch)
		v1.PUT("/patch.syx", s.putPatch)
		v1.GET("/patch.yaml", s.getPatchYAML)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// StartServer starts the API server on the specified port
func StartServer(port int, s *Server) error {
	return s.Handler().Run(fmt.Sprintf(":%d", port))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "midicv",
	})
}

// Output is the state of one CV output
type Output struct {
	Output     int    `json:"output"` // 1-based
	Mode       string `json:"mode"`
	Binding    string `json:"binding"`
	Code       uint16 `json:"code"`
	Millivolts int    `json:"millivolts"`
	Note       int    `json:"note"`
	Pending    bool   `json:"pending"`
}

func (s *Server) output(out int) Output {
	src := s.engine.Source(out)
	code := s.engine.Codes()[out]
	return Output{
		Output:     out + 1,
		Mode:       src.Mode().String(),
		Binding:    cv.Describe(src),
		Code:       code,
		Millivolts: cv.Millivolts(code),
		Note:       s.engine.Note(out),
		Pending:    s.engine.Dirty(out),
	}
}

// listOutputs godoc
// @Summary List outputs
// @Description Returns binding, DAC code and voltage of every output
// @Tags outputs
// @Produce json
// @Success 200 {object} map[string][]Output
// @Router /api/v1/outputs [get]
func (s *Server) listOutputs(c *gin.Context) {
	outputs := make([]Output, 0, cv.NumOutputs)
	for out := 0; out < cv.NumOutputs; out++ {
		outputs = append(outputs, s.output(out))
	}
	c.JSON(http.StatusOK, gin.H{"outputs": outputs})
}

// outputIndex parses the 1-based output number in the path.
func outputIndex(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("index"))
	if err != nil || n < 1 || n > cv.NumOutputs {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("output must be 1-%d", cv.NumOutputs)})
		return 0, false
	}
	return n - 1, true
}

// getOutput godoc
// @Summary Get one output
// @Tags outputs
// @Produce json
// @Param index path int true "Output number (1-4)"
// @Success 200 {object} Output
// @Failure 404 {object} map[string]string
// @Router /api/v1/outputs/{index} [get]
func (s *Server) getOutput(c *gin.Context) {
	out, ok := outputIndex(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.output(out))
}

// NRPNRequest is a reconfiguration request as sent over NRPN
type NRPNRequest struct {
	Param uint8 `json:"param" binding:"min=1,max=4"`
	Hi    uint8 `json:"hi"`
	Lo    uint8 `json:"lo"`
}

// reconfigure godoc
// @Summary Reconfigure an output
// @Description Applies a parameter/value request exactly as the NRPN protocol would
// @Tags outputs
// @Accept json
// @Produce json
// @Param index path int true "Output number (1-4)"
// @Param request body NRPNRequest true "Request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/outputs/{index}/nrpn [post]
func (s *Server) reconfigure(c *gin.Context) {
	out, ok := outputIndex(c)
	if !ok {
		return
	}
	var req NRPNRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changed := s.router.Apply(midiin.Request{Output: out, Param: cv.Param(req.Param), Hi: req.Hi, Lo: req.Lo})
	status := http.StatusOK
	if !changed {
		// rejected settings are reported, not fatal
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, gin.H{"changed": changed, "output": s.output(out)})
}

// reset godoc
// @Summary Reset to safe state
// @Description Releases all notes and drives every output to its safe voltage
// @Tags outputs
// @Produce json
// @Success 200 {object} map[string][]Output
// @Router /api/v1/reset [post]
func (s *Server) reset(c *gin.Context) {
	s.stacks.Reset()
	s.engine.ResetToSafeState()
	s.listOutputs(c)
}

// NoteEvent is a note on or off
type NoteEvent struct {
	Channel  uint8 `json:"channel" binding:"min=1,max=16"`
	Note     uint8 `json:"note" binding:"max=127"`
	Velocity uint8 `json:"velocity" binding:"max=127"`
}

// ControlEvent is a controller change
type ControlEvent struct {
	Channel    uint8 `json:"channel" binding:"min=1,max=16"`
	Controller uint8 `json:"controller" binding:"max=127"`
	Value      uint8 `json:"value" binding:"max=127"`
}

// ValueEvent carries a channel wide value: pressure 0-127 or bend 0-16383
type ValueEvent struct {
	Channel uint8 `json:"channel" binding:"min=1,max=16"`
	Value   int   `json:"value" binding:"min=0,max=16383"`
}

// TempoEvent sets the tempo outputs
type TempoEvent struct {
	BPM float64 `json:"bpm" binding:"gt=0,lt=256"`
}

func (s *Server) inject(c *gin.Context, msg midi.Message) {
	s.router.Handle(msg, 0)
	s.listOutputs(c)
}

// noteOn godoc
// @Summary Inject a note on
// @Tags events
// @Accept json
// @Produce json
// @Param event body NoteEvent true "Note"
// @Success 200 {object} map[string][]Output
// @Failure 400 {object} map[string]string
// @Router /api/v1/events/noteon [post]
func (s *Server) noteOn(c *gin.Context) {
	var ev NoteEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if ev.Velocity == 0 {
		ev.Velocity = 100
	}
	s.inject(c, midi.NoteOn(ev.Channel-1, ev.Note, ev.Velocity))
}

// noteOff godoc
// @Summary Inject a note off
// @Tags events
// @Accept json
// @Produce json
// @Param event body NoteEvent true "Note"
// @Success 200 {object} map[string][]Output
// @Failure 400 {object} map[string]string
// @Router /api/v1/events/noteoff [post]
func (s *Server) noteOff(c *gin.Context) {
	var ev NoteEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.inject(c, midi.NoteOff(ev.Channel-1, ev.Note))
}

// controlChange godoc
// @Summary Inject a controller change
// @Tags events
// @Accept json
// @Produce json
// @Param event body ControlEvent true "Controller"
// @Success 200 {object} map[string][]Output
// @Failure 400 {object} map[string]string
// @Router /api/v1/events/cc [post]
func (s *Server) controlChange(c *gin.Context) {
	var ev ControlEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.inject(c, midi.ControlChange(ev.Channel-1, ev.Controller, ev.Value))
}

// aftertouch godoc
// @Summary Inject channel pressure
// @Tags events
// @Accept json
// @Produce json
// @Param event body ValueEvent true "Pressure, 0-127"
// @Success 200 {object} map[string][]Output
// @Failure 400 {object} map[string]string
// @Router /api/v1/events/aftertouch [post]
func (s *Server) aftertouch(c *gin.Context) {
	var ev ValueEvent
	if err := c.ShouldBindJSON(&ev); err != nil || ev.Value > 127 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel 1-16 and value 0-127 required"})
		return
	}
	s.inject(c, midi.AfterTouch(ev.Channel-1, uint8(ev.Value)))
}

// pitchBend godoc
// @Summary Inject pitch bend
// @Tags events
// @Accept json
// @Produce json
// @Param event body ValueEvent true "Bend, 0-16383 with 8192 centre"
// @Success 200 {object} map[string][]Output
// @Failure 400 {object} map[string]string
// @Router /api/v1/events/bend [post]
func (s *Server) pitchBend(c *gin.Context) {
	var ev ValueEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.inject(c, midi.Pitchbend(ev.Channel-1, int16(ev.Value-cv.BendCenter)))
}

// tempo godoc
// @Summary Set the tempo
// @Tags events
// @Accept json
// @Produce json
// @Param event body TempoEvent true "Tempo"
// @Success 200 {object} map[string][]Output
// @Failure 400 {object} map[string]string
// @Router /api/v1/events/tempo [post]
func (s *Server) tempo(c *gin.Context) {
	var ev TempoEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.router.Tempo(int64(ev.BPM * 256))
	s.listOutputs(c)
}

// getConfig godoc
// @Summary Download the configuration blob
// @Tags config
// @Produce application/octet-stream
// @Success 200 {file} binary
// @Router /api/v1/config [get]
func (s *Server) getConfig(c *gin.Context) {
	c.Data(http.StatusOK, "application/octet-stream", s.engine.ExportConfiguration())
}

// putConfig godoc
// @Summary Upload a configuration blob
// @Description The blob is validated as a whole and rejected on any error
// @Tags config
// @Accept application/octet-stream
// @Produce json
// @Success 200 {object} map[string][]Output
// @Failure 400 {object} map[string]string
// @Router /api/v1/config [put]
func (s *Server) putConfig(c *gin.Context) {
	s.load(c, s.engine.ImportConfiguration)
}

// getPatch godoc
// @Summary Download the configuration as a SysEx patch
// @Tags config
// @Produce application/octet-stream
// @Success 200 {file} binary
// @Router /api/v1/patch.syx [get]
func (s *Server) getPatch(c *gin.Context) {
	c.Header("Content-Disposition", "attachment; filename=midicv.syx")
	c.Data(http.StatusOK, "application/octet-stream", patch.Export(s.engine))
}

// putPatch godoc
// @Summary Upload a SysEx patch
// @Tags config
// @Accept application/octet-stream
// @Produce json
// @Success 200 {object} map[string][]Output
// @Failure 400 {object} map[string]string
// @Router /api/v1/patch.syx [put]
func (s *Server) putPatch(c *gin.Context) {
	s.load(c, func(data []byte) error { return patch.Import(s.engine, data) })
}

// getPatchYAML godoc
// @Summary Show the configuration as YAML
// @Tags config
// @Produce application/yaml
// @Success 200 {string} string
// @Router /api/v1/patch.yaml [get]
func (s *Server) getPatchYAML(c *gin.Context) {
	data, err := patch.MarshalYAML(s.engine.Sources())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/yaml", data)
}

func (s *Server) load(c *gin.Context, apply func([]byte) error) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body"})
		return
	}
	if err := apply(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.engine.ResetToSafeState()
	s.listOutputs(c)
}
