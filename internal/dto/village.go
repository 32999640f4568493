package dto

// CreateVillageRequest captures POST /villages.
type CreateVillageRequest struct {
	Name     string   `json:"name" validate:"required,min=2,max=200"`
	Region   *string  `json:"region,omitempty" validate:"omitempty,max=200"`
	Location *string  `json:"location,omitempty" validate:"omitempty,max=500"`
	Director *string  `json:"director,omitempty" validate:"omitempty,max=200"`
	Programs []string `json:"programs,omitempty" validate:"omitempty,dive,required,max=100"`
}

// UpdateVillageRequest captures PATCH /villages/:id. Absent fields are left unchanged.
type UpdateVillageRequest struct {
	Name     *string  `json:"name,omitempty" validate:"omitempty,min=2,max=200"`
	Region   *string  `json:"region,omitempty" validate:"omitempty,max=200"`
	Location *string  `json:"location,omitempty" validate:"omitempty,max=500"`
	Director *string  `json:"director,omitempty" validate:"omitempty,max=200"`
	Programs []string `json:"programs,omitempty" validate:"omitempty,dive,required,max=100"`
}
