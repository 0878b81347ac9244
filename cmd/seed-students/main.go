package main

import (
	"context"
	"fmt"
	"time"

	"github.com/assesshub/assess-backend/internal/config"
	"github.com/assesshub/assess-backend/internal/database"
	"github.com/assesshub/assess-backend/internal/logger"
	"github.com/assesshub/assess-backend/internal/model"
	"github.com/assesshub/assess-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	studentRepo := repository.NewStudentRepository(pool)

	fmt.Println("=== Seeding 50 Students ===")

	names := []string{
		"Alice Johnson", "Brian Smith", "Carla Gomez", "Daniel Lee", "Emma Wilson",
		"Felix Turner", "Grace Chen", "Henry Adams", "Isla Moore", "Jack Nguyen",
		"Kara Patel", "Liam Brooks", "Mia Torres", "Noah Carter", "Olivia Reed",
		"Peter Hall", "Quinn Foster", "Ruby Simmons", "Sam Rivera", "Tara Bennett",
		"Umar Farouk", "Vera Kowalski", "Will Hayes", "Xander Cole", "Yara Haddad",
		"Zane Porter", "Abby Lane", "Ben Ortiz", "Chloe Kim", "Dean Walsh",
		"Ella Fraser", "Finn Murphy", "Gina Russo", "Hugo Blanc", "Ivy Sato",
		"Jonah Price", "Keira Walsh", "Leo Marsh", "Maya Singh", "Nina Volkov",
		"Omar Aziz", "Petra Novak", "Rhys Evans", "Sofia Costa", "Theo Grant",
		"Uma Devi", "Victor Cruz", "Wendy Park", "Yusuf Demir", "Zoe Clarke",
	}

	// One hash shared by all seed accounts keeps the loop fast even with a
	// realistic bcrypt cost.
	hash, err := bcrypt.GenerateFromPassword([]byte("assesshub-demo"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash seed password")
	}

	successCount := 0
	for i := 0; i < 50; i++ {
		student := &model.Student{
			StudentNo:    fmt.Sprintf("S%05d", i+1),
			Name:         names[i],
			Email:        fmt.Sprintf("student%d@example.com", i+1),
			PasswordHash: string(hash),
		}

		err := studentRepo.Create(ctx, student)
		if err != nil {
			fmt.Printf("Error creating student %s (%s): %v\n", student.Name, student.Email, err)
		} else {
			successCount++
			if (i+1)%10 == 0 {
				fmt.Printf("Created %d students...\n", i+1)
			}
		}
	}

	fmt.Printf("\nSeed completed! Successfully added %d/50 students.\n", successCount)
}
