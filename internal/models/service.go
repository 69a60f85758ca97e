package models

type Service struct {
	ServiceID         string `json:"service_id"`
	BranchID          string `json:"branch_id"`
	Name              string `json:"name"`
	Prefix            string `json:"prefix"`
	AvgServiceSeconds int    `json:"avg_service_seconds"`
	Active            bool   `json:"active"`
}
