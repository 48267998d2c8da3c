package dto

// AudienceRecordDTO is one audience identity as returned to operators
type AudienceRecordDTO struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Handle      string            `json:"handle"`
	AvatarRef   *string           `json:"avatar_ref,omitempty"`
	Source      string            `json:"source"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	CreatedAt   string            `json:"created_at,omitempty"`
}

// AudienceRecordInput is an identity supplied by the operator (quick add or discovery results)
type AudienceRecordInput struct {
	ID          string  `json:"id" validate:"required,max=64"`
	DisplayName string  `json:"display_name" validate:"omitempty,max=255"`
	Handle      string  `json:"handle" validate:"omitempty,max=255"`
	AvatarRef   *string `json:"avatar_ref,omitempty" validate:"omitempty,max=2048"`
}

type LoadAudienceResponse struct {
	Message   string `json:"message"`
	Persisted int    `json:"persisted"`
	Added     int    `json:"added"`
	Total     int    `json:"total"`
}

// ListAudienceRequest is read from the query string
type ListAudienceRequest struct {
	Source string `query:"source" validate:"omitempty,oneof=conversation engaged follower fetched discovered"`
}

type ListAudienceResponse struct {
	Message string              `json:"message"`
	Items   []AudienceRecordDTO `json:"items"`
	Total   int                 `json:"total"`
}

// AddAudienceRequest adds one record (quick add) or a whole discovery result (add all)
type AddAudienceRequest struct {
	Source  string                `json:"source" validate:"required,oneof=conversation engaged follower fetched discovered"`
	Records []AudienceRecordInput `json:"records" validate:"required,min=1,max=1000,dive"`
}

type AddAudienceResponse struct {
	Message string `json:"message"`
	Added   int    `json:"added"`
	Skipped int    `json:"skipped"`
	Total   int    `json:"total"`
}

type RemoveAudienceRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,required,max=64"`
}

type RemoveAudienceResponse struct {
	Message string `json:"message"`
	Removed int    `json:"removed"`
	Total   int    `json:"total"`
}

type EnrichAudienceRequest struct {
	Key   string `json:"key" validate:"required,max=64"`
	Value string `json:"value" validate:"max=1024"`
}

type EnrichAudienceResponse struct {
	Message string            `json:"message"`
	Record  AudienceRecordDTO `json:"record"`
}
