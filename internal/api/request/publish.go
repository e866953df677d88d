package request

// Publish is the body of the publish and dry-run endpoints. Without targets
// the advertiser's active placements are used.
type Publish struct {
	Targets []string `json:"targets" validate:"omitempty,max=500,dive,entity_id"`
}
