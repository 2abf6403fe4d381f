package handlers

import (
	"net/http"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"mosaic-api/initializers"
	"mosaic-api/repository"
	"mosaic-api/types"
)

type AvatarsHandler struct {
	users   *repository.UsersRepository
	storage initializers.ObjectStorage
}

func NewAvatarsHandler(users *repository.UsersRepository, storage initializers.ObjectStorage) *AvatarsHandler {
	return &AvatarsHandler{users: users, storage: storage}
}

var extByMIME = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Upload stores a new avatar for the authenticated user and records its
// object key. The previous avatar object, if any, is removed.
func (h *AvatarsHandler) Upload(c *gin.Context) {
	userID := c.GetInt("userId")

	// Limit request body size before reading multipart data
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, initializers.Conf.MaxSize)

	file, err := c.FormFile("file")
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "request body too large") {
			c.JSON(http.StatusRequestEntityTooLarge, types.NewErrorResponse(types.ErrorCodeValidation, "file size exceeds the limit"))
			return
		}
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCodeValidation, "file is required"))
		return
	}

	// Detect real MIME type from file content, not from client header
	sniff, openErr := file.Open()
	if openErr != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCodeValidation, "cannot open uploaded file"))
		return
	}
	mt, detectErr := mimetype.DetectReader(sniff)
	_ = sniff.Close()
	if detectErr != nil || mt == nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCodeValidation, "failed to detect file type"))
		return
	}
	detectedCT := strings.Split(mt.String(), ";")[0]

	if err := initializers.CheckFileAllowed(file.Size, detectedCT); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCodeValidation, err.Error()))
		return
	}

	ext, ok := extByMIME[detectedCT]
	if !ok {
		ext = path.Ext(file.Filename)
	}
	key := "avatars/" + uuid.NewString() + ext

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.ErrorCodeValidation, "cannot open uploaded file"))
		return
	}
	defer src.Close()

	if err := h.storage.Put(c.Request.Context(), key, src, file.Size, detectedCT); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, "failed to store avatar"))
		return
	}

	user, err := h.users.GetUserByID(userID)
	if err == nil && user != nil && user.AvatarKey != "" {
		// Old object is garbage once the new key is recorded.
		_ = h.storage.Delete(c.Request.Context(), user.AvatarKey)
	}

	if err := h.users.SetAvatarKey(userID, key); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, "failed to record avatar"))
		return
	}

	url, err := h.storage.URL(c.Request.Context(), key, file.Filename)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, "failed to resolve avatar url"))
		return
	}

	c.JSON(http.StatusCreated, types.NewSuccessResponse(gin.H{
		"key": key,
		"url": url,
	}))
}

// GetMine resolves the authenticated user's avatar to a fetchable URL.
func (h *AvatarsHandler) GetMine(c *gin.Context) {
	userID := c.GetInt("userId")
	user, err := h.users.GetUserByID(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, err.Error()))
		return
	}
	if user == nil || user.AvatarKey == "" {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.ErrorCodeNotFound, "No avatar set"))
		return
	}
	url, err := h.storage.URL(c.Request.Context(), user.AvatarKey, "avatar")
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.ErrorCodeInternal, "failed to resolve avatar url"))
		return
	}
	c.JSON(http.StatusOK, types.NewSuccessResponse(gin.H{"url": url}))
}
