package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"socialchat/backend/internal/api/handler"
	"socialchat/backend/internal/chathub"
	"socialchat/backend/internal/config"
	"socialchat/backend/internal/models"
	"socialchat/backend/internal/storage"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const usage = `Usage: admin <command> [args]

  create-public <title> [user_id...]   create a public room, optionally restricted
  direct <user_id> <user_id>           find or create a direct room
  group <user_id> <user_id>...         find or create a group room
  rooms <user_id>                      list a user's private rooms
  reactivate                           find or create and activate rooms for every friend pair
  token <user_id> [hours]              issue an identity token`

func main() {
	config.LoadDotEnv()
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	if os.Args[1] == "token" {
		runToken(cfg, os.Args[2:])
		return
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect database")
	}
	if err := storage.Migrate(db); err != nil {
		logrus.WithError(err).Fatal("failed to run migrations")
	}
	store := storage.NewStorageService(db)
	registry := chathub.NewRegistry(store, store, cfg.Chat.DefaultImage)
	ctx := context.Background()

	args := os.Args[2:]
	switch os.Args[1] {
	case "create-public":
		if len(args) < 1 {
			exitUsage("admin create-public <title> [user_id...]")
		}
		room, err := createPublic(ctx, registry, store, args[0], args[1:])
		if err != nil {
			logrus.WithError(err).Fatal("create public room")
		}
		fmt.Printf("Public room %s created.\n", room.ID)
	case "direct":
		if len(args) != 2 {
			exitUsage("admin direct <user_id> <user_id>")
		}
		room, err := findOrCreate(ctx, registry, store, args)
		if err != nil {
			logrus.WithError(err).Fatal("find or create direct room")
		}
		fmt.Printf("Direct room %s.\n", room.ID)
	case "group":
		if len(args) < 2 {
			exitUsage("admin group <user_id> <user_id>...")
		}
		room, err := findOrCreate(ctx, registry, store, args)
		if err != nil {
			logrus.WithError(err).Fatal("find or create group room")
		}
		fmt.Printf("Group room %s.\n", room.ID)
	case "rooms":
		if len(args) != 1 {
			exitUsage("admin rooms <user_id>")
		}
		if err := listRooms(ctx, registry, store, args[0]); err != nil {
			logrus.WithError(err).Fatal("list rooms")
		}
	case "reactivate":
		n, err := reactivate(ctx, registry, store, store)
		if err != nil {
			logrus.WithError(err).Fatal("reactivate rooms")
		}
		fmt.Printf("%d friend pairs have an active room.\n", n)
	default:
		fmt.Println(usage)
		os.Exit(1)
	}
}

func exitUsage(line string) {
	fmt.Println("Usage: " + line)
	os.Exit(1)
}

func runToken(cfg *config.Config, args []string) {
	if len(args) < 1 {
		exitUsage("admin token <user_id> [hours]")
	}
	hours := 72
	if len(args) > 1 {
		var err error
		if hours, err = strconv.Atoi(args[1]); err != nil || hours <= 0 {
			fmt.Println("Invalid duration. Please provide a positive integer.")
			os.Exit(1)
		}
	}
	token, err := handler.IssueToken([]byte(cfg.JWTSecret), args[0], time.Duration(hours)*time.Hour)
	if err != nil {
		logrus.WithError(err).Fatal("issue token")
	}
	fmt.Println(token)
}

func loadAccounts(ctx context.Context, accounts storage.AccountStore, ids []string) ([]*models.Account, error) {
	out := make([]*models.Account, 0, len(ids))
	for _, id := range ids {
		a, err := accounts.GetAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", id, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func createPublic(ctx context.Context, reg *chathub.Registry, accounts storage.AccountStore, title string, ids []string) (*models.Room, error) {
	authorized, err := loadAccounts(ctx, accounts, ids)
	if err != nil {
		return nil, err
	}
	return reg.CreatePublic(ctx, title, "", authorized)
}

func findOrCreate(ctx context.Context, reg *chathub.Registry, accounts storage.AccountStore, ids []string) (*models.Room, error) {
	members, err := loadAccounts(ctx, accounts, ids)
	if err != nil {
		return nil, err
	}
	if len(members) == 2 {
		return reg.FindOrCreateDirect(ctx, members[0], members[1])
	}
	return reg.FindOrCreateGroup(ctx, members)
}

func listRooms(ctx context.Context, reg *chathub.Registry, accounts storage.AccountStore, id string) error {
	me, err := accounts.GetAccount(ctx, id)
	if err != nil {
		return err
	}
	rooms, err := reg.ListRoomsFor(ctx, me)
	if err != nil {
		return err
	}
	for i := range rooms {
		room := &rooms[i]
		fmt.Printf("%s\t%-30s\tactive=%t\tmembers=%d\n", room.ID, reg.Title(room, me), room.Active, len(room.Members))
	}
	return nil
}

// reactivate makes sure every mutual friend pair has an active direct room.
func reactivate(ctx context.Context, reg *chathub.Registry, accounts storage.AccountStore, friends storage.FriendshipStore) (int, error) {
	pairs, err := friends.ListMutualFriendPairs(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range pairs {
		room, err := findOrCreate(ctx, reg, accounts, p[:])
		if err != nil {
			return 0, err
		}
		if err := reg.SetActive(ctx, room, true); err != nil {
			return 0, fmt.Errorf("activate room %s: %w", room.ID, err)
		}
	}
	return len(pairs), nil
}
