package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"assethub/server/assetman/domain"
	"assethub/server/assetman/repository"
	"assethub/server/assetman/service"
	commonauth "assethub/server/common/auth"
	"assethub/server/common/middleware"
	"assethub/server/common/transport/httpresp"
)

const RoleAdmin = "admin"

type AdminCredential struct {
	Username     string
	PasswordHash string
}

type Handler struct {
	uploads *service.UploadService
	assets  *service.AssetService
	hub     *service.Hub
	auth    *commonauth.Service
	admin   AdminCredential
}

func NewHandler(uploads *service.UploadService, assets *service.AssetService, hub *service.Hub, auth *commonauth.Service, admin AdminCredential) *Handler {
	return &Handler{uploads: uploads, assets: assets, hub: hub, auth: auth, admin: admin}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/auth/login", h.login)

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.GET("/assets", h.listAssets)
		api.GET("/assets/:id", h.getAsset)
		api.GET("/categories", h.listCategories)
		api.POST("/assets/upload-credential", h.issueUploadCredential)
		api.POST("/assets", h.registerAsset)

		admin := api.Group("")
		admin.Use(middleware.RequireRoles(RoleAdmin))
		{
			admin.POST("/assets/:id/promote", h.promoteAsset)
			admin.PATCH("/assets/:id", h.updateAsset)
			admin.DELETE("/assets/:id", h.deleteAsset)
			admin.POST("/assets/:id/restore", h.restoreAsset)
			admin.GET("/events/ws", h.eventsWebsocket)
		}
	}
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	if req.Username != h.admin.Username ||
		bcrypt.CompareHashAndPassword([]byte(h.admin.PasswordHash), []byte(req.Password)) != nil {
		c.JSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidCredentials))
		return
	}
	token, err := h.auth.GenerateToken(req.Username, RoleAdmin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, httpresp.NewTokenResponse(token, req.Username, RoleAdmin))
}

func (h *Handler) issueUploadCredential(c *gin.Context) {
	var req struct {
		FileName    string `json:"file_name" binding:"required"`
		ContentType string `json:"content_type" binding:"required"`
		ByteSize    int64  `json:"byte_size" binding:"required"`
		Category    string `json:"category" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	credential, err := h.uploads.IssueUploadCredential(c.Request.Context(), service.IssueUploadInput{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		ByteSize:    req.ByteSize,
		Category:    req.Category,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, credential)
}

func (h *Handler) registerAsset(c *gin.Context) {
	uploadedBy := c.GetString("auth_user_id")
	var req struct {
		OriginalFileName string   `json:"original_file_name" binding:"required"`
		StagingPath      string   `json:"staging_path" binding:"required"`
		ContentType      string   `json:"content_type" binding:"required"`
		ByteSize         int64    `json:"byte_size" binding:"required"`
		Category         string   `json:"category" binding:"required"`
		Description      string   `json:"description"`
		Tags             []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	item, err := h.assets.Register(c.Request.Context(), service.RegisterInput{
		OriginalFileName: req.OriginalFileName,
		StagingPath:      req.StagingPath,
		ContentType:      req.ContentType,
		ByteSize:         req.ByteSize,
		Category:         req.Category,
		Description:      req.Description,
		Tags:             req.Tags,
	}, uploadedBy)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handler) promoteAsset(c *gin.Context) {
	item, err := h.assets.Promote(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) updateAsset(c *gin.Context) {
	var req struct {
		Description *string  `json:"description"`
		Tags        []string `json:"tags"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}
	item, err := h.assets.UpdateMetadata(c.Request.Context(), c.Param("id"), service.UpdateMetadataInput{
		Description: req.Description,
		Tags:        req.Tags,
	})
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) deleteAsset(c *gin.Context) {
	deletedBy := c.GetString("auth_user_id")
	item, err := h.assets.SoftDelete(c.Request.Context(), c.Param("id"), deletedBy)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) restoreAsset(c *gin.Context) {
	item, err := h.assets.Restore(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) getAsset(c *gin.Context) {
	includeDeleted := c.GetString("auth_role") == RoleAdmin && c.Query("include_deleted") == "true"
	item, err := h.assets.Get(c.Request.Context(), c.Param("id"), includeDeleted)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) listAssets(c *gin.Context) {
	var query struct {
		Category       string `form:"category"`
		State          string `form:"state"`
		ContentType    string `form:"content_type"`
		UploadedBy     string `form:"uploaded_by"`
		MinByteSize    int64  `form:"min_byte_size"`
		MaxByteSize    int64  `form:"max_byte_size"`
		IncludeDeleted bool   `form:"include_deleted"`
		Cursor         string `form:"cursor"`
		Limit          int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
		return
	}

	filter := repository.ListFilter{
		Category:    query.Category,
		ContentType: query.ContentType,
		Cursor:      query.Cursor,
		Limit:       query.Limit,
	}
	// State, uploader, size and deleted filters are an admin-only view.
	if c.GetString("auth_role") == RoleAdmin {
		filter.State = domain.State(query.State)
		filter.UploadedBy = query.UploadedBy
		filter.MinByteSize = query.MinByteSize
		filter.MaxByteSize = query.MaxByteSize
		filter.IncludeDeleted = query.IncludeDeleted
	} else {
		filter.State = domain.StatePromoted
	}

	items, nextCursor, err := h.assets.List(c.Request.Context(), filter)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "next_cursor": nextCursor})
}

func (h *Handler) listCategories(c *gin.Context) {
	includeDeleted := c.GetString("auth_role") == RoleAdmin && c.Query("include_deleted") == "true"
	categories, err := h.assets.Categories(c.Request.Context(), includeDeleted)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"categories": categories})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (h *Handler) eventsWebsocket(c *gin.Context) {
	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	client := &service.WSClient{ID: uuid.NewString(), Conn: conn}
	h.hub.Register(client)

	// Reads are discarded; the socket exists only to push outcome events.
	go func() {
		defer h.hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func writeDomainError(c *gin.Context, err error) {
	var (
		validationErr   *domain.ValidationError
		invalidStateErr *domain.InvalidStateError
		notFoundErr     *domain.NotFoundError
		conflictErr     *domain.ConflictError
	)
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, httpresp.NewErrorResponse(err.Error()))
	case errors.As(err, &notFoundErr):
		c.JSON(http.StatusNotFound, httpresp.NewErrorResponse(err.Error()))
	case errors.As(err, &invalidStateErr), errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, httpresp.NewErrorResponse(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, httpresp.NewErrorResponse(err.Error()))
	}
}
