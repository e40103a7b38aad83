package adapter

import (
	"errors"

	tele "gopkg.in/telebot.v4"

	kit "mailerbot/internal/transport"
)

// classifySendErr maps telebot/Bot API errors onto the transport error
// taxonomy. The executor treats every kind as a counted failure; the kind
// only sharpens logs and campaign details.
func classifySendErr(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.SendError{Kind: kit.SendErrRateLimited, Err: err}
	}

	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrNotStartedByUser):
		return &kit.SendError{Kind: kit.SendErrUnreachable, Err: err}

	case errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel),
		errors.Is(err, tele.ErrNoRightsToSend):
		return &kit.SendError{Kind: kit.SendErrForbidden, Err: err}
	}

	return &kit.SendError{Kind: kit.SendErrOther, Err: err}
}
