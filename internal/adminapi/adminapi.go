// Package adminapi wires up the Gin HTTP router operators and external
// collaborators use to talk to a ring node: health, state introspection,
// key lookup, replica listing, blob storage, and join.
package adminapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"chordkv/internal/chord/proto"
	"chordkv/internal/chord/ringid"
)

// Node is the subset of node.Node the admin API needs.
type Node interface {
	Self() proto.NodeRef
	Predecessor() proto.NodeRef
	Successor() proto.NodeRef
	FingerTable() []proto.NodeRef
	RingSignature() string
	RefreshPending() bool
	IDBitLen() uint
	FindSuccessor(ctx context.Context, target uint64) (proto.NodeRef, error)
	RequestJoin(ctx context.Context, seedIP string, seedPort int) error
}

// Replicator is the subset of replica.Engine the admin API needs.
type Replicator interface {
	GetReplicants(ctx context.Context, k int, start *proto.NodeRef) ([]proto.NodeRef, error)
	StoreBlob(ctx context.Context, data []byte) (string, error)
}

// Handler holds all dependencies injected from main.
type Handler struct {
	node    Node
	replica Replicator
	k       int
	log     *logrus.Entry
}

// NewHandler creates a Handler.
func NewHandler(n Node, r Replicator, replicationFactor int, log *logrus.Entry) *Handler {
	return &Handler{node: n, replica: r, k: replicationFactor, log: log.WithField("component", "adminapi")}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/healthz", h.Healthz)
	r.GET("/debug/state", h.DebugState)
	r.GET("/lookup/:key", h.Lookup)
	r.GET("/replicas/:key", h.Replicas)
	r.POST("/blobs/:id", h.StoreBlobHandler)
	r.POST("/join", h.Join)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "node_id": h.node.Self().ID})
}

// DebugState handles GET /debug/state, dumping everything an operator
// needs to diagnose a stuck or misrouted ring member.
func (h *Handler) DebugState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"self":            h.node.Self(),
		"predecessor":     h.node.Predecessor(),
		"successor":       h.node.Successor(),
		"finger_table":    h.node.FingerTable(),
		"ring_signature":  h.node.RingSignature(),
		"refresh_pending": h.node.RefreshPending(),
	})
}

// Lookup handles GET /lookup/:key, the seam an external CRUD-fronting
// service is expected to call to find which node owns a key.
func (h *Handler) Lookup(c *gin.Context) {
	key := c.Param("key")
	id := ringid.HashID(key, h.node.IDBitLen())

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	owner, err := h.node.FindSuccessor(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "id": id, "owner": owner})
}

// Replicas handles GET /replicas/:key.
func (h *Handler) Replicas(c *gin.Context) {
	key := c.Param("key")
	id := ringid.HashID(key, h.node.IDBitLen())

	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	home, err := h.node.FindSuccessor(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	replicants, err := h.replica.GetReplicants(ctx, h.k, &home)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "home": home, "replicas": replicants})
}

// StoreBlobHandler handles POST /blobs/:id. The :id path parameter is
// informational only — blobs are named by their lowercase hex SHA-256
// content hash, not by caller choice.
func (h *Handler) StoreBlobHandler(c *gin.Context) {
	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty request body"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	id, err := h.replica.StoreBlob(ctx, data)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"blob_id": id})
}

// Join handles POST /join.
// Body: {"ip": "<seed ip>", "port": <seed port>}
func (h *Handler) Join(c *gin.Context) {
	var body struct {
		IP   string `json:"ip" binding:"required"`
		Port int    `json:"port" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := h.node.RequestJoin(ctx, body.IP, body.Port); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"joined": true})
}
