package model

import "time"

// Actor roles used by authorization preconditions.
const (
	RolePatient           = "patient"
	RoleHospitalAuthority = "hospital_authority"
	RoleAdmin             = "admin"
)

// Hospital is the read-only directory view of a hospital. Profile CRUD is
// owned by an external collaborator; the core only reads the fields it
// needs for authorization and settlement.
type Hospital struct {
	ID                string    `json:"id,omitempty" bson:"_id,omitempty"`
	Name              string    `json:"name" bson:"name"`
	City              string    `json:"city" bson:"city"`
	ServiceChargeRate *float64  `json:"service_charge_rate,omitempty" bson:"service_charge_rate,omitempty"`
	Active            bool      `json:"active" bson:"active"`
	CreatedAt         time.Time `json:"created_at" bson:"created_at"`
}

// User is the read-only directory view of a platform user.
type User struct {
	ID         string    `json:"id,omitempty" bson:"_id,omitempty"`
	Name       string    `json:"name" bson:"name"`
	Phone      string    `json:"phone" bson:"phone"`
	Role       string    `json:"role" bson:"role"`
	HospitalID string    `json:"hospital_id,omitempty" bson:"hospital_id,omitempty"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}
