package models

import "github.com/google/uuid"

// assignID fills a missing primary key before insert so rows carry ids in
// every dialect, including sqlite where gen_random_uuid is unavailable.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
