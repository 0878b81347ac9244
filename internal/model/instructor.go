package model

import "time"

// Instructor represents an instructor user. Instructors author and publish
// assessments; there is no finer-grained permission model.
type Instructor struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// InstructorLoginRequest is the payload for instructor authentication.
type InstructorLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// InstructorLoginResponse is returned after successful instructor login.
type InstructorLoginResponse struct {
	Token      string     `json:"token"`
	Instructor Instructor `json:"instructor"`
}
