package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/certledger/internal/domain/model"
	"github.com/bigkaa/certledger/internal/registry"
)

// withRegistry открывает хранилище и выполняет fn над реестром.
// Операции CLI выполняются от имени оператора с прямым доступом
// к хранилищу, поэтому полномочия не проверяются.
func (a *app) withRegistry(ctx context.Context, fn func(reg *registry.Registry) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(newRegistry(a.cfg, store, registry.TrustedAuthorizer{}, a.logger))
}

func initializeCommand(a *app) *cobra.Command {
	var admin string
	cmd := &cobra.Command{
		Use:   "initialize",
		Short: "Назначить администратора реестра (однократно)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withRegistry(cmd.Context(), func(reg *registry.Registry) error {
				if err := reg.Initialize(cmd.Context(), admin); err != nil {
					return err
				}
				cfg, err := reg.Admin(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cfg)
			})
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "идентификатор администратора")
	_ = cmd.MarkFlagRequired("admin")
	return cmd
}

func registerCommand(a *app) *cobra.Command {
	var owner, fileHashHex, filePath, txHashHex string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Зарегистрировать сертификат файла",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileHash, err := resolveFileHash(fileHashHex, filePath)
			if err != nil {
				return err
			}
			txHash, err := model.ParseHash32(txHashHex)
			if err != nil {
				return fmt.Errorf("--tx-hash: %w", err)
			}
			return a.withRegistry(cmd.Context(), func(reg *registry.Registry) error {
				cert, err := reg.RegisterCertificate(cmd.Context(), owner, fileHash, txHash)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cert)
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "идентификатор владельца")
	cmd.Flags().StringVar(&fileHashHex, "file-hash", "", "SHA-256 файла (64 hex-символа)")
	cmd.Flags().StringVar(&filePath, "file", "", "путь к файлу (хэш вычисляется)")
	cmd.Flags().StringVar(&txHashHex, "tx-hash", "", "хэш транзакции-доказательства")
	cmd.MarkFlagsMutuallyExclusive("file-hash", "file")
	cmd.MarkFlagsOneRequired("file-hash", "file")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("tx-hash")
	return cmd
}

func approveCommand(a *app) *cobra.Command {
	var admin, fileHashHex string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Одобрить сертификат",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileHash, err := model.ParseHash32(fileHashHex)
			if err != nil {
				return fmt.Errorf("--file-hash: %w", err)
			}
			return a.withRegistry(cmd.Context(), func(reg *registry.Registry) error {
				cert, err := reg.ApproveCertificate(cmd.Context(), admin, fileHash)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cert)
			})
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "идентификатор администратора")
	cmd.Flags().StringVar(&fileHashHex, "file-hash", "", "SHA-256 файла (64 hex-символа)")
	_ = cmd.MarkFlagRequired("admin")
	_ = cmd.MarkFlagRequired("file-hash")
	return cmd
}

func rejectCommand(a *app) *cobra.Command {
	var admin, fileHashHex, reason string
	cmd := &cobra.Command{
		Use:   "reject",
		Short: "Отклонить сертификат",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileHash, err := model.ParseHash32(fileHashHex)
			if err != nil {
				return fmt.Errorf("--file-hash: %w", err)
			}
			return a.withRegistry(cmd.Context(), func(reg *registry.Registry) error {
				cert, err := reg.RejectCertificate(cmd.Context(), admin, fileHash, reason)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cert)
			})
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "идентификатор администратора")
	cmd.Flags().StringVar(&fileHashHex, "file-hash", "", "SHA-256 файла (64 hex-символа)")
	cmd.Flags().StringVar(&reason, "reason", "", "причина отклонения (1-256 байт)")
	_ = cmd.MarkFlagRequired("admin")
	_ = cmd.MarkFlagRequired("file-hash")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func getCommand(a *app) *cobra.Command {
	var fileHashHex string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Показать сертификат",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileHash, err := model.ParseHash32(fileHashHex)
			if err != nil {
				return fmt.Errorf("--file-hash: %w", err)
			}
			return a.withRegistry(cmd.Context(), func(reg *registry.Registry) error {
				cert, err := reg.GetCertificate(cmd.Context(), fileHash)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), cert)
			})
		},
	}
	cmd.Flags().StringVar(&fileHashHex, "file-hash", "", "SHA-256 файла (64 hex-символа)")
	_ = cmd.MarkFlagRequired("file-hash")
	return cmd
}

func verifyCommand(a *app) *cobra.Command {
	var fileHashHex string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Повторно проверить транзакцию-доказательство сертификата",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fileHash, err := model.ParseHash32(fileHashHex)
			if err != nil {
				return fmt.Errorf("--file-hash: %w", err)
			}
			return a.withRegistry(cmd.Context(), func(reg *registry.Registry) error {
				v, err := reg.VerifyCertificate(cmd.Context(), fileHash)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
	cmd.Flags().StringVar(&fileHashHex, "file-hash", "", "SHA-256 файла (64 hex-символа)")
	_ = cmd.MarkFlagRequired("file-hash")
	return cmd
}

func hashCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash FILE",
		Short: "Вычислить SHA-256 файла",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := hashFile(args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
}

// resolveFileHash возвращает хэш из --file-hash или вычисляет его по --file.
func resolveFileHash(fileHashHex, filePath string) (model.Hash32, error) {
	switch {
	case fileHashHex != "":
		h, err := model.ParseHash32(fileHashHex)
		if err != nil {
			return h, fmt.Errorf("--file-hash: %w", err)
		}
		return h, nil
	case filePath != "":
		return hashFile(filePath)
	default:
		return model.Hash32{}, errors.New("требуется --file-hash или --file")
	}
}

// hashFile вычисляет SHA-256 содержимого файла.
func hashFile(path string) (model.Hash32, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Hash32{}, fmt.Errorf("открытие файла: %w", err)
	}
	defer f.Close()
	return model.HashContent(f)
}
