package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/digkill/genstudio/internal/database"
	"github.com/digkill/genstudio/internal/models"
	"github.com/digkill/genstudio/internal/repository"
)

type AccountService struct {
	db          *database.DB
	accounts    *repository.AccountRepository
	ledger      *repository.LedgerRepository
	signupBonus int64
	log         *slog.Logger
}

func NewAccountService(db *database.DB, accounts *repository.AccountRepository, ledger *repository.LedgerRepository, signupBonus int64, log *slog.Logger) *AccountService {
	return &AccountService{db: db, accounts: accounts, ledger: ledger, signupBonus: signupBonus, log: log}
}

// Ensure returns the account for userID, creating a free-tier one with the signup grant on
// first sight. created reports whether this call created it.
func (s *AccountService) Ensure(ctx context.Context, userID, email string) (*models.Account, bool, error) {
	if userID == "" {
		return nil, false, fmt.Errorf("user id is required: %w", models.ErrInvalidInput)
	}
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("ensure account: %w", err)
	}
	if account != nil {
		if email != "" && email != account.Email {
			if err := s.accounts.UpdateEmail(ctx, userID, email); err != nil {
				s.log.Warn("failed to update account email", "user_id", userID, "err", err)
			} else {
				account.Email = email
			}
		}
		return account, false, nil
	}

	var created bool
	err = s.db.InTx(ctx, func(tx *sql.Tx) error {
		created, err = s.accounts.Create(ctx, tx, userID, email, models.PlanFree)
		if err != nil || !created || s.signupBonus <= 0 {
			return err
		}
		_, err = s.ledger.CreditTx(ctx, tx, repository.Posting{
			UserID:      userID,
			Type:        models.TxGrant,
			Amount:      s.signupBonus,
			Description: "Welcome bonus",
		})
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("create account: %w", err)
	}
	if created {
		s.log.Info("account created", "user_id", userID, "signup_bonus", s.signupBonus)
	}

	account, err = s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("reload account: %w", err)
	}
	if account == nil {
		return nil, false, models.ErrUserNotFound
	}
	return account, created, nil
}

func (s *AccountService) Get(ctx context.Context, userID string) (*models.Account, error) {
	account, err := s.accounts.FindByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, models.ErrUserNotFound
	}
	return account, nil
}

func (s *AccountService) SetPlan(ctx context.Context, userID string, plan models.PlanTier) error {
	if !plan.Valid() {
		return models.NewValidationError("plan", fmt.Sprintf("unknown plan %q", plan))
	}
	if err := s.accounts.SetPlan(ctx, userID, plan); err != nil {
		return fmt.Errorf("set plan: %w", err)
	}
	s.log.Info("plan changed", "user_id", userID, "plan", plan)
	return nil
}

const telegramPrefix = "tg:"

// TelegramUserID is the ledger user id of a Telegram chat.
func TelegramUserID(chatID int64) string {
	return telegramPrefix + strconv.FormatInt(chatID, 10)
}

// ParseTelegramUserID reverses TelegramUserID.
func ParseTelegramUserID(userID string) (int64, bool) {
	raw, ok := strings.CutPrefix(userID, telegramPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// TelegramChatIDs lists the chats of every account created through the bot.
func (s *AccountService) TelegramChatIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.accounts.ListIDsWithPrefix(ctx, telegramPrefix)
	if err != nil {
		return nil, err
	}
	chats := make([]int64, 0, len(ids))
	for _, id := range ids {
		if chat, ok := ParseTelegramUserID(id); ok {
			chats = append(chats, chat)
		}
	}
	return chats, nil
}
