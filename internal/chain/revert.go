package chain

import (
	"errors"
	"strings"

	"github.com/askgene/backend/internal/escrow"
)

var revertMessages = []struct {
	err     error
	message string
}{
	{escrow.ErrNotConsultant, "Only the consultant of this session can confirm it."},
	{escrow.ErrNotClient, "Only the client who paid for this session can request a refund."},
	{escrow.ErrNotParticipant, "Only the client or the consultant of this session can release payment."},
	{escrow.ErrRefundNotEligible, "This session is not eligible for a refund yet."},
	{escrow.ErrReleaseNotEligible, "Payment can be released by the consultant 24 hours after the scheduled time."},
	{escrow.ErrAlreadySettled, "This session has already been paid out or refunded."},
	{escrow.ErrInvalidStatus, "The session is not in a state that allows this action."},
	{escrow.ErrScheduleInPast, "The session must be scheduled in the future."},
	{escrow.ErrValueMismatch, "The amount sent does not match the session price."},
	{escrow.ErrInvalidAmount, "The session amount must be greater than zero."},
	{escrow.ErrInsufficientFunds, "The wallet balance is too low for this payment."},
	{escrow.ErrSessionNotFound, "The escrow session does not exist."},
}

// RevertMessage turns an engine error or an EVM revert reason into text that
// can be shown to the caller. Unknown errors get a generic message.
func RevertMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range revertMessages {
		if errors.Is(err, m.err) {
			return m.message
		}
	}
	reason := err.Error()
	for _, m := range revertMessages {
		if strings.Contains(reason, m.err.Error()) {
			return m.message
		}
	}
	if strings.Contains(reason, "insufficient funds") {
		return "The wallet balance is too low for this payment."
	}
	if strings.Contains(reason, "user rejected") || strings.Contains(reason, "User denied") {
		return "The transaction was rejected in the wallet."
	}
	return "The transaction was reverted by the escrow contract."
}
