package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"ticket-payments/internal/checkout"
	"ticket-payments/internal/middleware"
)

func newBookCmd(a *app) *cobra.Command {
	var (
		orderID   string
		eventID   string
		eventName string
		tickets   []string
	)

	cmd := &cobra.Command{
		Use:   "book",
		Short: "Store a booking draft for the payment step",
		Example: `  checkout book --order O1 --event E1 --event-name "Spring Gala" \
      --ticket vip:29.99:1 --ticket ga:10.00:2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := parseTickets(tickets)
			if err != nil {
				return err
			}
			order.OrderID = orderID
			order.EventID = eventID
			order.EventName = eventName
			order.TotalAmount = order.Total()

			if err := a.intents.SavePendingOrder(cmd.Context(), order); err != nil {
				return err
			}
			cmd.Printf("order %s booked, total %s\n", orderID, order.TotalAmount.StringFixed(2))
			return nil
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "local order id")
	cmd.Flags().StringVar(&eventID, "event", "", "event id")
	cmd.Flags().StringVar(&eventName, "event-name", "", "event name")
	cmd.Flags().StringArrayVar(&tickets, "ticket", nil, "ticket as id:price:quantity[:available], repeatable")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("ticket")
	return cmd
}

// parseTickets reads id:price:quantity[:available] entries, one per ticket type.
func parseTickets(specs []string) (*checkout.PendingOrder, error) {
	order := &checkout.PendingOrder{TicketSelections: make(map[string]int)}
	for _, raw := range specs {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("ticket %q: want id:price:quantity[:available]", raw)
		}
		id := parts[0]
		if _, dup := order.TicketSelections[id]; dup {
			return nil, fmt.Errorf("ticket %q: type %s given twice", raw, id)
		}
		price, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("ticket %q: bad price: %w", raw, err)
		}
		qty, err := strconv.Atoi(parts[2])
		if err != nil || qty < 0 {
			return nil, fmt.Errorf("ticket %q: bad quantity", raw)
		}
		available := 0
		if len(parts) == 4 {
			available, err = strconv.Atoi(parts[3])
			if err != nil || available < qty {
				return nil, fmt.Errorf("ticket %q: bad availability", raw)
			}
		}
		order.TicketTypes = append(order.TicketTypes, checkout.TicketType{ID: id, Name: id, Price: price, Available: available})
		order.TicketSelections[id] = qty
	}
	return order, nil
}

func newPayCmd(a *app) *cobra.Command {
	var orderID string

	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Pay a booked order with PayPal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := a.newCheckout(orderID, cmd.Printf)
			defer c.Wait()

			if err := c.Mount(ctx); err != nil {
				return userError(err)
			}
			state := c.State()
			switch state.Phase {
			case checkout.PhaseSucceeded:
				return nil
			case checkout.PhaseFailed:
				return errors.New(state.Message)
			}

			paypalOrderID, err := c.CreateOrder(ctx)
			if err != nil {
				return userError(err)
			}
			cmd.Printf("approve the payment at:\n  %s\n", c.State().ApproveURL)
			cmd.Print("press Enter once approved, or type cancel / closed: ")

			answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			switch strings.TrimSpace(strings.ToLower(answer)) {
			case "cancel":
				if err := c.OnCancel(ctx); err != nil {
					return userError(err)
				}
				cmd.Println(c.State().Message)
				return nil
			case "closed":
				cmd.Println(userError(c.OnError(ctx, errors.New("Window closed"))))
				c.Wait()
				if msg := c.State().Message; msg != "" {
					cmd.Println(msg)
				}
				return nil
			}

			return userError(c.OnApprove(ctx, checkout.ApproveData{OrderID: paypalOrderID}))
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "local order id")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func newRecoverCmd(a *app) *cobra.Command {
	var orderID string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Reconcile a payment left pending by an earlier session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := a.newCheckout(orderID, cmd.Printf)
			if err := c.Mount(cmd.Context()); err != nil {
				return userError(err)
			}
			if c.State().Phase != checkout.PhaseSucceeded {
				cmd.Println("nothing to recover")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&orderID, "order", "", "local order id")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List your payments",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := a.api.History(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range records {
				cmd.Printf("%s  %-10s %8s %s  %-6s %s\n",
					r.CreatedAt.Format(time.DateTime), r.OrderID, r.Amount.StringFixed(2), r.Currency, r.PaymentMethod, r.TransactionID)
			}
			return nil
		},
	}
}

func newReceiptCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "receipt <transaction-id>",
		Short: "Download the PDF receipt of a payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pdf, err := a.api.Receipt(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = "receipt-" + args[0] + ".pdf"
			}
			if err := os.WriteFile(output, pdf, 0o644); err != nil {
				return fmt.Errorf("write receipt: %w", err)
			}
			cmd.Printf("saved %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a development bearer token with AUTH_JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := middleware.IssueToken([]byte(a.cfg.Auth.JWTSecret), args[0], ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			cmd.Println(token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// userError prefers the message meant for the payer.
func userError(err error) error {
	var ce *checkout.Error
	if errors.As(err, &ce) {
		return errors.New(ce.Message)
	}
	return err
}
