// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes the StateVault core to the host application over
// HTTP: current state get/replace/clear, snapshot lifecycle, rollback,
// auto-rollback guards, and the session document store.
package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/statevault/services/statevault/docstore"
	"github.com/AleutianAI/statevault/services/statevault/snapshot"
	"github.com/AleutianAI/statevault/services/statevault/store"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handlers bundles the core components behind the HTTP surface.
type Handlers struct {
	store    *store.Store
	docs     *docstore.Store
	snaps    *snapshot.Manager
	guardsMu sync.Mutex
	guards   map[string]func()
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(st *store.Store, docs *docstore.Store, snaps *snapshot.Manager) *Handlers {
	return &Handlers{
		store:  st,
		docs:   docs,
		snaps:  snaps,
		guards: make(map[string]func()),
	}
}

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// HandleGetState returns the current state document, or 404 when absent.
func (h *Handlers) HandleGetState(c *gin.Context) {
	doc, ok := h.store.Load(c.Request.Context())
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no state document"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// HandleReplaceState replaces the current state document.
func (h *Handlers) HandleReplaceState(c *gin.Context) {
	var doc store.StateDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid state document: " + err.Error()})
		return
	}

	if err := h.store.Save(c.Request.Context(), doc); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrQuotaExceeded) {
			status = http.StatusInsufficientStorage
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleClearState removes the current state document.
func (h *Handlers) HandleClearState(c *gin.Context) {
	if err := h.store.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Snapshots
// -----------------------------------------------------------------------------

// CreateSnapshotRequest is the body for snapshot creation.
type CreateSnapshotRequest struct {
	Description string `json:"description"`
}

// CreateSnapshotResponse carries the new snapshot id.
type CreateSnapshotResponse struct {
	ID string `json:"id"`
}

// HandleListSnapshots returns the snapshot listing, oldest first.
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	c.JSON(http.StatusOK, h.snaps.ListSnapshots())
}

// HandleCreateSnapshot checkpoints the current state.
func (h *Handlers) HandleCreateSnapshot(c *gin.Context) {
	var req CreateSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	id, created, err := h.snaps.CreateSnapshot(c.Request.Context(), req.Description)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if !created {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no current state to checkpoint"})
		return
	}
	c.JSON(http.StatusCreated, CreateSnapshotResponse{ID: id})
}

// HandleRollback restores a snapshot by id.
func (h *Handlers) HandleRollback(c *gin.Context) {
	id := c.Param("id")
	err := h.snaps.Rollback(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, snapshot.ErrSnapshotNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleDeleteSnapshot removes a snapshot by id.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	if !h.snaps.DeleteSnapshot(c.Request.Context(), c.Param("id")) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "snapshot not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Guards
// -----------------------------------------------------------------------------

// ArmGuardRequest is the body for arming an auto-rollback guard.
type ArmGuardRequest struct {
	Operation string `json:"operation" binding:"required"`
}

// ArmGuardResponse carries the guard handle for later disarming.
type ArmGuardResponse struct {
	GuardID string `json:"guard_id"`
	Armed   bool   `json:"armed"`
}

// HandleArmGuard checkpoints the current state and arms the watchdog.
//
// Description:
//
//	When there is no current state the response reports armed=false
//	with no guard id; there is nothing to roll back to, so no timer
//	was started.
func (h *Handlers) HandleArmGuard(c *gin.Context) {
	var req ArmGuardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	before := h.snaps.Count()
	disarm, err := h.snaps.PrepareAutoRollback(c.Request.Context(), req.Operation)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if h.snaps.Count() == before {
		// No snapshot was created, the disarm is a no-op.
		c.JSON(http.StatusOK, ArmGuardResponse{Armed: false})
		return
	}

	guardID := uuid.NewString()
	h.guardsMu.Lock()
	h.guards[guardID] = disarm
	h.guardsMu.Unlock()

	c.JSON(http.StatusCreated, ArmGuardResponse{GuardID: guardID, Armed: true})
}

// HandleDisarmGuard cancels a pending auto-rollback. Disarming an
// unknown or already fired guard is a no-op that still returns 204.
func (h *Handlers) HandleDisarmGuard(c *gin.Context) {
	id := c.Param("id")

	h.guardsMu.Lock()
	disarm, ok := h.guards[id]
	delete(h.guards, id)
	h.guardsMu.Unlock()

	if ok {
		disarm()
	}
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// Documents
// -----------------------------------------------------------------------------

// DocumentRequest is the body for document create/update.
type DocumentRequest struct {
	Payload map[string]any `json:"payload"`
}

// PinRequest is the body for pin toggling.
type PinRequest struct {
	Pinned bool `json:"pinned"`
}

// CreateDocumentResponse carries the new document id.
type CreateDocumentResponse struct {
	ID string `json:"id"`
}

// HandleListDocuments returns all documents, pinned first, newest next.
func (h *Handlers) HandleListDocuments(c *gin.Context) {
	c.JSON(http.StatusOK, h.docs.List())
}

// HandleCreateDocument creates a document and makes it current.
func (h *Handlers) HandleCreateDocument(c *gin.Context) {
	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	id, err := h.docs.Create(c.Request.Context(), req.Payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrQuotaExceeded) {
			status = http.StatusInsufficientStorage
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, CreateDocumentResponse{ID: id})
}

// HandleUpdateDocument replaces a document's payload.
func (h *Handlers) HandleUpdateDocument(c *gin.Context) {
	var req DocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	err := h.docs.Update(c.Request.Context(), c.Param("id"), req.Payload)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleDeleteDocument removes a document.
func (h *Handlers) HandleDeleteDocument(c *gin.Context) {
	err := h.docs.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandlePinDocument toggles a document's eviction exemption.
func (h *Handlers) HandlePinDocument(c *gin.Context) {
	var req PinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	err := h.docs.SetPinned(c.Request.Context(), c.Param("id"), req.Pinned)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleCurrentDocument returns the document the current pointer references.
func (h *Handlers) HandleCurrentDocument(c *gin.Context) {
	doc, ok := h.docs.Current()
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no current document"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
