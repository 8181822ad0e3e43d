package ledger

// FailureOTPExhausted is recorded when a withdrawal runs out of OTP attempts.
const FailureOTPExhausted = "otp attempts exhausted"

func validatePosting(amount int64, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if reference == "" {
		return ErrMissingReference
	}
	return nil
}

func validateTransfer(input TransferInput) error {
	if err := validatePosting(input.Amount, input.Reference); err != nil {
		return err
	}
	if input.From == input.To {
		return ErrSelfTransfer
	}
	return nil
}

func validateWithdrawal(input WithdrawalInput) error {
	if err := validatePosting(input.Amount, input.Reference); err != nil {
		return err
	}
	if _, ok := input.Recipient.Handle(); !ok {
		return ErrStateConflict
	}
	return nil
}

func validateRequest(req MoneyRequest) error {
	if req.Amount <= 0 {
		return ErrInvalidAmount
	}
	if req.RequesterID == req.PayerID {
		return ErrSelfTransfer
	}
	return nil
}
