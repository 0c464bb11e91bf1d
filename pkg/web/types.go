package web

// ExecutionRequest submits one aggregated-script execution.
type ExecutionRequest struct {
	AggregatedScriptID string `json:"aggregated_script_id" validate:"required"`
	Username           string `json:"username"             validate:"required"`
	Host               string `json:"host"                 validate:"required"`
	Port               int    `json:"port"                 validate:"required,gt=0"`
}

// InteractionResponse answers one pending interaction.
type InteractionResponse struct {
	Response string `json:"response"`
}

// BreakerRequest names the pool key of a breaker.
type BreakerRequest struct {
	Username string `json:"username" validate:"required"`
	Host     string `json:"host"     validate:"required"`
	Port     int    `json:"port"     validate:"required,gt=0"`
	CallerID string `json:"caller_id"`
}
