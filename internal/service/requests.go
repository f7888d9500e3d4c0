package service

// UploadRequest is the metadata sent with a firmware binary
type UploadRequest struct {
	Name          string `json:"name" validate:"required,max=100"`
	Version       string `json:"version" validate:"required,max=50"`
	Description   string `json:"description" validate:"max=2000"`
	ReleaseNotes  string `json:"releaseNotes" validate:"max=10000"`
	TargetGroup   string `json:"targetDeviceGroup" validate:"required,max=100"`
	TransportType string `json:"transportType" validate:"required,transport"`
}

// RegisterDeviceRequest describes a new device
type RegisterDeviceRequest struct {
	Identifier string `json:"deviceIdentifier" validate:"required,max=100"`
	Name       string `json:"name" validate:"required,max=100"`
	Group      string `json:"deviceGroup" validate:"required,max=100"`
}

// TriggerJobRequest starts an update job. An empty transport uses the firmware's own.
type TriggerJobRequest struct {
	FirmwareID    string `json:"firmwareId" validate:"required,uuid"`
	TransportType string `json:"transportType" validate:"omitempty,transport"`
	Strategy      string `json:"strategy" validate:"omitempty,strategy"`
}

// CreateUserRequest adds a user known to the identity provider
type CreateUserRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Role     string `json:"role" validate:"required,role"`
}

// CreateAPIKeyRequest mints an API key for a user
type CreateAPIKeyRequest struct {
	UserID        string `json:"userId" validate:"required,uuid"`
	Name          string `json:"name" validate:"required,max=100"`
	ExpiresInDays int    `json:"expiresInDays" validate:"gte=0,lte=3650"`
}
