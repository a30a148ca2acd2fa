package contents

type ListContentsQuery struct {
	Limit  int     `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=200"`
	Offset int     `query:"offset" json:"offset,omitempty" validate:"min=0"`
	Status *string `query:"status" json:"status,omitempty" validate:"omitempty,oneof=pending enriched quarantine"`
	Kind   *string `query:"kind" json:"kind,omitempty" validate:"omitempty,oneof=book comic"`
}

type ListQuarantineQuery struct {
	Limit  int `query:"limit" json:"limit,omitempty" default:"50" validate:"min=1,max=200"`
	Offset int `query:"offset" json:"offset,omitempty" validate:"min=0"`
}

type UpdateVisibilityPayload struct {
	Visibility string `json:"visibility" validate:"required,oneof=public private"`
}
