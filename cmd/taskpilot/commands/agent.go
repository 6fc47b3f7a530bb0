package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/calloway/taskpilot/internal/model"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage the agent pool",
	Long:  `Register, list, and administer agent records.`,
}

var agentAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentAdd,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE:  runAgentList,
}

var agentHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <name>",
	Short: "Record an agent heartbeat",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentHeartbeat,
}

var agentSetActiveCmd = &cobra.Command{
	Use:   "set-active <name> <true|false>",
	Short: "Enable or disable an agent",
	Args:  cobra.ExactArgs(2),
	RunE:  runAgentSetActive,
}

func init() {
	agentAddCmd.Flags().String("type", string(model.AgentGeneral), "Agent type: general, deployment_fixer, discovery_agent, optimizer")
	agentAddCmd.Flags().StringSlice("capabilities", []string{"general"}, "Comma-separated capabilities")
	agentAddCmd.Flags().Int("max-concurrent", 1, "Maximum concurrent tasks")
	agentAddCmd.Flags().Float64("priority-weight", 1.0, "Selection priority weight")

	agentCmd.AddCommand(agentAddCmd)
	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentHeartbeatCmd)
	agentCmd.AddCommand(agentSetActiveCmd)
	rootCmd.AddCommand(agentCmd)
}

func runAgentAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	database, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	agentType, _ := cmd.Flags().GetString("type")
	capabilities, _ := cmd.Flags().GetStringSlice("capabilities")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
	weight, _ := cmd.Flags().GetFloat64("priority-weight")

	agent := &model.Agent{
		Name:           args[0],
		Type:           model.AgentType(agentType),
		Capabilities:   capabilities,
		MaxConcurrent:  maxConcurrent,
		Status:         model.AgentAvailable,
		IsActive:       true,
		PriorityWeight: weight,
		SuccessRate:    1.0,
	}

	if err := st.CreateAgent(cmd.Context(), agent); err != nil {
		return err
	}
	fmt.Printf("Registered agent %s (%s, capabilities: %s)\n",
		agent.Name, agent.Type, strings.Join(agent.Capabilities, ", "))
	return nil
}

func runAgentList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	database, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	agents, err := st.ListAgents(cmd.Context(), false)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}

	counts, err := st.ActiveTaskCounts(cmd.Context())
	if err != nil {
		return err
	}

	now := time.Now()
	for _, a := range agents {
		state := string(a.Status)
		if !a.IsActive {
			state += " (inactive)"
		}
		fmt.Printf("%-20s %-22s %-24s %d/%d tasks  weight=%.1f rate=%.2f heartbeat=%s\n",
			a.Name, a.Type, state+" "+strings.Join(a.Capabilities, ","),
			counts[a.Name], a.MaxConcurrent, a.PriorityWeight, a.SuccessRate,
			formatAge(a.LastHeartbeat, now))
	}
	return nil
}

func runAgentHeartbeat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	database, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if err := st.Heartbeat(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Heartbeat recorded for %s\n", args[0])
	return nil
}

func runAgentSetActive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	database, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	active := args[1] == "true"
	if args[1] != "true" && args[1] != "false" {
		return fmt.Errorf("expected true or false, got %q", args[1])
	}

	if err := st.SetAgentActive(cmd.Context(), args[0], active); err != nil {
		return err
	}
	fmt.Printf("Agent %s active=%v\n", args[0], active)
	return nil
}
