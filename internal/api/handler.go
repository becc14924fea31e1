// Package api is the request/response surface around the chat core: account
// signup/login and friend-request management.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ParthMatta-9921/Chatapp/internal/auth"
	"github.com/ParthMatta-9921/Chatapp/internal/store"
)

const userIDKey = "user_id"

// Handler carries the REST endpoints' dependencies.
type Handler struct {
	log    *zap.Logger
	store  *store.Store
	tokens *auth.Manager
}

// NewHandler wires the REST surface.
func NewHandler(log *zap.Logger, st *store.Store, tokens *auth.Manager) *Handler {
	return &Handler{log: log, store: st, tokens: tokens}
}

// Register mounts the routes on the engine.
func (h *Handler) Register(r gin.IRouter) {
	authGroup := r.Group("/auth")
	authGroup.POST("/signup", h.Signup)
	authGroup.POST("/login", h.Login)

	friends := r.Group("/friends", h.RequireAuth)
	friends.POST("/request", h.SendFriendRequest)
	friends.POST("/respond", h.RespondFriendRequest)
	friends.GET("", h.ListFriends)
	friends.GET("/requests", h.ListPendingRequests)
	friends.DELETE("/:friend_id", h.RemoveFriend)
}

// RequireAuth resolves the bearer token and stores the user id in the request
// context.
func (h *Handler) RequireAuth(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	userID, err := h.tokens.VerifyCredential(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Set(userIDKey, userID)
	c.Next()
}

func currentUserID(c *gin.Context) int64 {
	return c.GetInt64(userIDKey)
}

type signupRequest struct {
	Username string `json:"username" binding:"required,min=3,max=20"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// Signup registers a new account.
func (h *Handler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.log.Error("hash password", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	user, err := h.store.CreateUser(c.Request.Context(), req.Username, req.Email, hash)
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "username or email already registered"})
		return
	}
	if err != nil {
		h.log.Error("create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
	})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login checks credentials and issues a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	user, err := h.store.UserByUsername(c.Request.Context(), req.Username)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !auth.CheckPassword(user.PasswordHash, req.Password)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		h.log.Error("lookup user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.log.Error("issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "bearer",
	})
}

type friendRequestBody struct {
	ReceiverID int64 `json:"receiver_id" binding:"required"`
}

// SendFriendRequest records a pending friendship edge.
func (h *Handler) SendFriendRequest(c *gin.Context) {
	var req friendRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	userID := currentUserID(c)
	if req.ReceiverID == userID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "you cannot add yourself"})
		return
	}

	if _, err := h.store.UserByID(c.Request.Context(), req.ReceiverID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		h.log.Error("lookup receiver", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	err := h.store.CreateFriendRequest(c.Request.Context(), userID, req.ReceiverID)
	if errors.Is(err, store.ErrDuplicate) {
		c.JSON(http.StatusConflict, gin.H{"error": "friend request or friendship already exists"})
		return
	}
	if err != nil {
		h.log.Error("create friend request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"message": "friend request sent"})
}

type respondBody struct {
	SenderID int64  `json:"sender_id" binding:"required"`
	Action   string `json:"action" binding:"required,oneof=accept decline"`
}

// RespondFriendRequest accepts or declines a pending request.
func (h *Handler) RespondFriendRequest(c *gin.Context) {
	var req respondBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	err := h.store.RespondFriendRequest(c.Request.Context(), currentUserID(c), req.SenderID, req.Action == "accept")
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "friend request not found"})
		return
	}
	if err != nil {
		h.log.Error("respond friend request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "friend request " + req.Action + "d"})
}

type friendOut struct {
	FriendID int64  `json:"friend_id"`
	Username string `json:"username"`
	Status   string `json:"status"`
	Since    string `json:"since"`
}

func friendsOut(friends []store.Friend) []friendOut {
	out := make([]friendOut, 0, len(friends))
	for _, f := range friends {
		out = append(out, friendOut{
			FriendID: f.UserID,
			Username: f.Username,
			Status:   f.Status,
			Since:    f.Since.Format(time.RFC3339),
		})
	}
	return out
}

// ListFriends returns the accepted friendships of the caller.
func (h *Handler) ListFriends(c *gin.Context) {
	friends, err := h.store.Friends(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.log.Error("list friends", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": friendsOut(friends)})
}

// ListPendingRequests returns incoming pending requests.
func (h *Handler) ListPendingRequests(c *gin.Context) {
	pending, err := h.store.PendingRequests(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.log.Error("list pending requests", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": friendsOut(pending)})
}

// RemoveFriend deletes an accepted friendship.
func (h *Handler) RemoveFriend(c *gin.Context) {
	friendID, err := strconv.ParseInt(c.Param("friend_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid friend id"})
		return
	}

	err = h.store.RemoveFriend(c.Request.Context(), currentUserID(c), friendID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "friendship not found"})
		return
	}
	if err != nil {
		h.log.Error("remove friend", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "friend removed"})
}
