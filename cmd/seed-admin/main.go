package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/retail_backend/config"
	"bitbucket.org/mmdatafocus/retail_backend/models"
)

// Provisions a business with its first admin user. Intended for fresh
// environments; fails if the username is taken.
func main() {
	businessName := flag.String("business", "", "Required: business name")
	email := flag.String("email", "", "Required: business email")
	name := flag.String("name", "Administrator", "Admin display name")
	username := flag.String("username", "", "Required: admin username")
	password := flag.String("password", "", "Required: admin password (min 8 chars)")
	flag.Parse()

	if strings.TrimSpace(*businessName) == "" || strings.TrimSpace(*email) == "" ||
		strings.TrimSpace(*username) == "" || strings.TrimSpace(*password) == "" {
		fmt.Fprintln(os.Stderr, "--business, --email, --username and --password are required")
		os.Exit(1)
	}
	if len(*password) < 8 {
		fmt.Fprintln(os.Stderr, "password must be at least 8 characters")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := context.Background()
	business, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  *businessName,
		Email: *email,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create business: %v\n", err)
		os.Exit(1)
	}

	user, err := models.CreateUser(ctx, business.ID.String(), &models.NewUser{
		Name:     *name,
		Username: *username,
		Password: *password,
		Role:     models.UserRoleAdmin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create admin user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("business %s created: %s\n", business.Name, business.ID)
	fmt.Printf("admin user %s created: id=%d\n", user.Username, user.ID)
}
