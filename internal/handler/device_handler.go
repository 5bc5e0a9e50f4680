// internal/handler/device_handler.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"device-scanner/internal/model"
	"device-scanner/internal/repository"
	"device-scanner/internal/service"
	"device-scanner/internal/utils"
)

// ScannerStatus is the diagnostic side of the port scanner
type ScannerStatus interface {
	KnownPorts() []model.ObservedPort
	Profiles() []model.DeviceProfile
	Done() <-chan struct{}
}

// EventLister reads the lifecycle event journal
type EventLister interface {
	ListRecent(ctx context.Context, limit int) ([]repository.EventRecord, error)
}

// DeviceHandler serves the device status API
type DeviceHandler struct {
	devices DeviceLister
	scanner ScannerStatus
	events  EventLister
	logger  *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler. events may be nil when the
// journal is disabled.
func NewDeviceHandler(devices DeviceLister, scanner ScannerStatus, events EventLister, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		devices: devices,
		scanner: scanner,
		events:  events,
		logger:  utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/devices", h.ListDevices)
	router.GET("/devices/:port_id", h.GetDevice)
	router.GET("/profiles", h.ListProfiles)
	router.GET("/ports/known", h.ListKnownPorts)
	router.GET("/events", h.ListEvents)
}

// ListDevices lists live devices
// @Summary List live devices
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.DeviceInfo}
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.devices.ListDevices()
	utils.ListResponse(c, "Devices retrieved successfully", devices, len(devices))
}

// GetDevice returns the live device on a port. Port ids containing slashes
// must be path-escaped.
// @Summary Get live device
// @Tags Devices
// @Produce json
// @Param port_id path string true "Port id, path-escaped"
// @Success 200 {object} utils.APIResponse{data=model.DeviceInfo}
// @Failure 404 {object} utils.APIResponse
// @Router /devices/{port_id} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	portID := c.Param("port_id")

	device, err := h.devices.GetDevice(portID)
	if err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			utils.ErrorResponse(c, http.StatusNotFound, "Device not found", err)
			return
		}
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to get device", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", device)
}

// profileView is a profile with its ids rendered as VVVV:PPPP
type profileView struct {
	model.DeviceProfile
	USBID string `json:"usb_id"`
}

// ListProfiles lists supported device profiles in match order
// @Summary List device profiles
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse
// @Router /profiles [get]
func (h *DeviceHandler) ListProfiles(c *gin.Context) {
	profiles := h.scanner.Profiles()

	views := make([]profileView, 0, len(profiles))
	for _, p := range profiles {
		port := model.ObservedPort{VendorID: p.VendorID, ProductID: p.ProductID}
		views = append(views, profileView{DeviceProfile: p, USBID: port.USBID()})
	}
	utils.ListResponse(c, "Profiles retrieved successfully", views, len(views))
}

// ListKnownPorts lists ports the scanner has already handled
// @Summary List known ports
// @Tags Diagnostics
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.ObservedPort}
// @Router /ports/known [get]
func (h *DeviceHandler) ListKnownPorts(c *gin.Context) {
	ports := h.scanner.KnownPorts()
	utils.ListResponse(c, "Known ports retrieved successfully", ports, len(ports))
}

// ListEvents lists journaled lifecycle events, newest first
// @Summary List lifecycle events
// @Tags Diagnostics
// @Produce json
// @Param limit query int false "Maximum events" default(50)
// @Success 200 {object} utils.APIResponse{data=[]repository.EventRecord}
// @Failure 400 {object} utils.APIResponse
// @Failure 503 {object} utils.APIResponse "Journal disabled"
// @Router /events [get]
func (h *DeviceHandler) ListEvents(c *gin.Context) {
	if h.events == nil {
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Event journal is disabled", nil)
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	records, err := h.events.ListRecent(c.Request.Context(), repository.ClampLimit(limit))
	if err != nil {
		utils.LogError(h.logger.Logger, "Failed to list lifecycle events", err)
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	utils.ListResponse(c, "Events retrieved successfully", records, len(records))
}
