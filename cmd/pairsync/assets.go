package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pairsync/internal/config"
	"pairsync/internal/customasset"
	"pairsync/internal/model"
)

func newAssetsCmd() *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Manage the custom asset list",
	}
	assetsCmd.PersistentFlags().String("network", "mainnet", "network the assets belong to")
	assetsCmd.PersistentFlags().String("custom-assets", "./data/custom-assets", "custom asset database directory")
	assetsCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	addCmd := &cobra.Command{
		Use:   "add <address>",
		Short: "Add or replace a custom asset",
		Args:  cobra.ExactArgs(1),
		RunE:  runAssetsAdd,
	}
	addCmd.Flags().String("symbol", "", "asset symbol")
	addCmd.Flags().String("name", "", "asset name")
	addCmd.Flags().Uint8("decimals", 0, "asset decimals")
	addCmd.Flags().String("icon", "", "icon URL")
	assetsCmd.AddCommand(addCmd)

	assetsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List custom assets",
		Args:  cobra.NoArgs,
		RunE:  runAssetsList,
	})

	assetsCmd.AddCommand(&cobra.Command{
		Use:   "remove <address>",
		Short: "Remove a custom asset",
		Args:  cobra.ExactArgs(1),
		RunE:  runAssetsRemove,
	})

	return assetsCmd
}

// withAssets opens the list and logger described by the command flags.
func withAssets(cmd *cobra.Command, fn func(cfg config.AssetsConfig, list *customasset.List, logger *zap.Logger) error) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAssets(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	list, err := customasset.Open(cfg.CustomAssets)
	if err != nil {
		return err
	}
	defer list.Close()

	return fn(cfg, list, logger)
}

func runAssetsAdd(cmd *cobra.Command, args []string) error {
	return withAssets(cmd, func(cfg config.AssetsConfig, list *customasset.List, logger *zap.Logger) error {
		symbol, _ := cmd.Flags().GetString("symbol")
		name, _ := cmd.Flags().GetString("name")
		decimals, _ := cmd.Flags().GetUint8("decimals")
		icon, _ := cmd.Flags().GetString("icon")

		stored, err := list.Add(cfg.Network, model.Asset{
			Address:  args[0],
			Symbol:   symbol,
			Name:     name,
			Decimals: decimals,
			IconURL:  icon,
		})
		if err != nil {
			return err
		}
		logger.Info("custom asset added", zap.String("network", stored.Network), zap.String("address", stored.Address))
		return nil
	})
}

func runAssetsList(cmd *cobra.Command, _ []string) error {
	return withAssets(cmd, func(cfg config.AssetsConfig, list *customasset.List, _ *zap.Logger) error {
		assets, err := list.List(cfg.Network)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tSYMBOL\tDECIMALS\tADDED")
		for _, asset := range assets {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", asset.Address, asset.Symbol, asset.Decimals, asset.AddedAt)
		}
		return w.Flush()
	})
}

func runAssetsRemove(cmd *cobra.Command, args []string) error {
	return withAssets(cmd, func(cfg config.AssetsConfig, list *customasset.List, logger *zap.Logger) error {
		removed, err := list.RemoveCustomAsset(cfg.Network, args[0])
		if err != nil {
			return err
		}
		if !removed {
			logger.Info("custom asset not found", zap.String("network", cfg.Network), zap.String("address", args[0]))
			return nil
		}
		logger.Info("custom asset removed", zap.String("network", cfg.Network), zap.String("address", args[0]))
		return nil
	})
}
