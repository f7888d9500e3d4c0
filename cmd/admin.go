package cmd

import (
	"context"
	"fmt"
	"time"

	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/apperrors"
	"example.com/backstage/services/ota/internal/audit"
	"example.com/backstage/services/ota/internal/auth"
	"example.com/backstage/services/ota/internal/database"
	"example.com/backstage/services/ota/internal/models"
	"example.com/backstage/services/ota/internal/repository"
	"example.com/backstage/services/ota/internal/service"
	"example.com/backstage/services/ota/internal/validation"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	userName       string
	userRole       string
	apiKeyUser     string
	apiKeyName     string
	expirationDays int
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var createUserCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	Long:  `Create an admin or operator user. Use this to bootstrap the first admin.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(func(ctx context.Context, repo repository.Repository) error {
			return createUser(ctx, repo)
		})
	},
}

var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
}

var generateKeyCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new API key for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepository(func(ctx context.Context, repo repository.Repository) error {
			return generateAPIKey(ctx, repo)
		})
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(createUserCmd)
	rootCmd.AddCommand(apiKeyCmd)
	apiKeyCmd.AddCommand(generateKeyCmd)

	createUserCmd.Flags().StringVarP(&userName, "username", "u", "", "Username (required)")
	createUserCmd.Flags().StringVarP(&userRole, "role", "r", string(models.RoleOperator), "Role (admin, operator)")
	_ = createUserCmd.MarkFlagRequired("username")

	generateKeyCmd.Flags().StringVar(&apiKeyUser, "user", "", "Username or user id that owns the key (required)")
	generateKeyCmd.Flags().StringVarP(&apiKeyName, "name", "n", "", "Name for the API key (required)")
	generateKeyCmd.Flags().IntVarP(&expirationDays, "expires-days", "e", 365, "Expiration in days (0 for never)")
	_ = generateKeyCmd.MarkFlagRequired("user")
	_ = generateKeyCmd.MarkFlagRequired("name")
}

// withRepository opens the database for a one-shot maintenance command
func withRepository(fn func(ctx context.Context, repo repository.Repository) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log.Info("Connecting to database...")
	db, err := database.Connect(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return fn(ctx, repository.NewRepository(db))
}

func createUser(ctx context.Context, repo repository.Repository) error {
	req := service.CreateUserRequest{Username: userName, Role: userRole}
	if err := validation.Struct(req); err != nil {
		return err
	}

	user := &models.User{Username: req.Username, Role: models.Role(req.Role)}
	if err := repo.CreateUser(ctx, user); err != nil {
		return err
	}

	recordSystem(ctx, repo, audit.ActionUserCreate, "user", user.ID.String(), map[string]interface{}{
		"username": user.Username,
		"role":     user.Role,
	})

	fmt.Printf("Created %s user %s (%s)\n", user.Role, user.Username, user.ID)
	return nil
}

func generateAPIKey(ctx context.Context, repo repository.Repository) error {
	if expirationDays < 0 {
		return apperrors.Validation("invalid expiration", map[string]string{"expires-days": "must not be negative"})
	}

	user, err := findUser(ctx, repo, apiKeyUser)
	if err != nil {
		return err
	}

	secret, hash, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("failed to generate api key: %w", err)
	}

	key := &models.APIKey{UserID: user.ID, Name: apiKeyName, KeyHash: hash}
	if expirationDays > 0 {
		expiry := time.Now().UTC().AddDate(0, 0, expirationDays)
		key.ExpiresAt = &expiry
	}
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		return err
	}

	recordSystem(ctx, repo, audit.ActionAPIKeyCreate, "api_key", key.ID.String(), map[string]interface{}{
		"userId": user.ID.String(),
		"name":   key.Name,
	})

	fmt.Println("=================================================================")
	fmt.Println("API Key generated successfully!")
	fmt.Println("=================================================================")
	fmt.Printf("ID:    %s\n", key.ID)
	fmt.Printf("Name:  %s\n", key.Name)
	fmt.Printf("User:  %s (%s)\n", user.Username, user.Role)
	if key.ExpiresAt != nil {
		fmt.Printf("Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
	} else {
		fmt.Println("Expires: Never")
	}
	fmt.Println("-----------------------------------------------------------------")
	fmt.Printf("API Key: %s\n", secret)
	fmt.Println("-----------------------------------------------------------------")
	fmt.Println("IMPORTANT: Store this key securely. It won't be displayed again.")
	fmt.Println("=================================================================")
	return nil
}

func findUser(ctx context.Context, repo repository.Repository, ref string) (*models.User, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return repo.FindUserByID(ctx, id)
	}
	return repo.FindUserByUsername(ctx, ref)
}

// recordSystem audits a CLI action under the system actor
func recordSystem(ctx context.Context, repo repository.Repository, action, targetType, targetID string, details map[string]interface{}) {
	err := audit.NewStoreRecorder(repo).Record(ctx, audit.Entry{
		ActorID:    auth.System.ActorID(),
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    details,
		At:         time.Now().UTC(),
	})
	if err != nil {
		log.WithError(err).WithField("action", action).Warn("Failed to write audit entry")
	}
}
