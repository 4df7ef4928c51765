package model

import "time"

// Classroom groups students under an instructor.
type Classroom struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	InstructorID int       `json:"instructor_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Student is a quiz-taking user.
type Student struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	ClassroomID  int       `json:"classroom_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Instructor is a reviewing/monitoring user.
type Instructor struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// LoginRequest is the payload for both student and instructor login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}
