package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
)

// SchemaHandler handles extraction schema management: flat fields,
// collections, and collection properties.
type SchemaHandler struct {
	schemas repositories.SchemaRepository
	logger  *zap.Logger
}

// NewSchemaHandler creates a new schema handler.
func NewSchemaHandler(schemas repositories.SchemaRepository, logger *zap.Logger) *SchemaHandler {
	return &SchemaHandler{
		schemas: schemas,
		logger:  logger,
	}
}

// RegisterRoutes registers the schema handler's routes on the given mux.
func (h *SchemaHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/projects/{pid}/schema"

	mux.HandleFunc("GET "+base, h.GetSchema)

	mux.HandleFunc("POST "+base+"/fields", h.CreateField)
	mux.HandleFunc("PUT "+base+"/fields/{field_id}", h.UpdateField)
	mux.HandleFunc("DELETE "+base+"/fields/{field_id}", h.DeleteField)

	mux.HandleFunc("POST "+base+"/collections", h.CreateCollection)
	mux.HandleFunc("DELETE "+base+"/collections/{collection_id}", h.DeleteCollection)

	mux.HandleFunc("POST "+base+"/collections/{collection_id}/properties", h.CreateProperty)
	mux.HandleFunc("PUT "+base+"/properties/{property_id}", h.UpdateProperty)
	mux.HandleFunc("DELETE "+base+"/properties/{property_id}", h.DeleteProperty)
}

// GetSchema handles GET /api/projects/{pid}/schema
func (h *SchemaHandler) GetSchema(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	schema, err := h.schemas.GetProjectSchema(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to load project schema", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: schema}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateField handles POST /api/projects/{pid}/schema/fields
func (h *SchemaHandler) CreateField(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var field models.SchemaField
	if err := json.NewDecoder(r.Body).Decode(&field); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	field.ProjectID = projectID
	if field.AutoVerificationConfidence == 0 {
		field.AutoVerificationConfidence = models.DefaultAutoVerificationConfidence
	}

	if err := field.Validate(); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_field", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.schemas.CreateField(r.Context(), &field); err != nil {
		h.logger.Error("Failed to create schema field", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: field}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateField handles PUT /api/projects/{pid}/schema/fields/{field_id}
func (h *SchemaHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	fieldID, ok := parseUUID(w, r, "field_id", h.logger)
	if !ok {
		return
	}

	var field models.SchemaField
	if err := json.NewDecoder(r.Body).Decode(&field); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	field.ID = fieldID
	field.ProjectID = projectID

	if err := field.Validate(); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_field", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.schemas.UpdateField(r.Context(), &field); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: field}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteField handles DELETE /api/projects/{pid}/schema/fields/{field_id}
func (h *SchemaHandler) DeleteField(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	fieldID, ok := parseUUID(w, r, "field_id", h.logger)
	if !ok {
		return
	}

	if err := h.schemas.DeleteField(r.Context(), fieldID); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Field deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateCollection handles POST /api/projects/{pid}/schema/collections
func (h *SchemaHandler) CreateCollection(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var collection models.Collection
	if err := json.NewDecoder(r.Body).Decode(&collection); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	collection.ProjectID = projectID
	for i := range collection.Properties {
		if collection.Properties[i].AutoVerificationConfidence == 0 {
			collection.Properties[i].AutoVerificationConfidence = models.DefaultAutoVerificationConfidence
		}
	}

	if err := collection.Validate(); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_collection", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.schemas.CreateCollection(r.Context(), &collection); err != nil {
		h.logger.Error("Failed to create collection", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: collection}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteCollection handles DELETE /api/projects/{pid}/schema/collections/{collection_id}
func (h *SchemaHandler) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	collectionID, ok := parseUUID(w, r, "collection_id", h.logger)
	if !ok {
		return
	}

	if err := h.schemas.DeleteCollection(r.Context(), collectionID); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Collection deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateProperty handles POST /api/projects/{pid}/schema/collections/{collection_id}/properties
func (h *SchemaHandler) CreateProperty(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	collectionID, ok := parseUUID(w, r, "collection_id", h.logger)
	if !ok {
		return
	}

	var property models.Property
	if err := json.NewDecoder(r.Body).Decode(&property); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	property.CollectionID = collectionID
	if property.AutoVerificationConfidence == 0 {
		property.AutoVerificationConfidence = models.DefaultAutoVerificationConfidence
	}

	if err := property.Validate(); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_property", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.schemas.CreateProperty(r.Context(), &property); err != nil {
		h.logger.Error("Failed to create property", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: property}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateProperty handles PUT /api/projects/{pid}/schema/properties/{property_id}
func (h *SchemaHandler) UpdateProperty(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	propertyID, ok := parseUUID(w, r, "property_id", h.logger)
	if !ok {
		return
	}

	var property models.Property
	if err := json.NewDecoder(r.Body).Decode(&property); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	property.ID = propertyID

	if err := property.Validate(); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_property", err.Error()); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.schemas.UpdateProperty(r.Context(), &property); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: property}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteProperty handles DELETE /api/projects/{pid}/schema/properties/{property_id}
func (h *SchemaHandler) DeleteProperty(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	propertyID, ok := parseUUID(w, r, "property_id", h.logger)
	if !ok {
		return
	}

	if err := h.schemas.DeleteProperty(r.Context(), propertyID); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Property deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
