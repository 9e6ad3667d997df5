package server

import (
	"encoding/json"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/clnode/internal/hooks"
	"github.com/p-blackswan/clnode/internal/store"
)

func notFound(what string) error {
	return fiber.NewError(fiber.StatusNotFound, what+" not found")
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}

func taskID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return 0, badRequest("invalid task id")
	}
	return id, nil
}

// decodeBody parses a JSON body. An empty body decodes to the zero value.
func decodeBody(c *fiber.Ctx, v any) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func (s *Server) health(c *fiber.Ctx) error {
	size, err := s.store.DBSizeBytes(c.UserContext())
	if err != nil {
		return err
	}
	uptime := s.checker.Uptime()
	return c.JSON(fiber.Map{
		"status":        "ok",
		"uptime":        uptime.Seconds(),
		"db_size_bytes": size,
		"db_size":       humanize.Bytes(uint64(size)),
		"subscribers":   s.hub.Subscribers(),
	})
}

func (s *Server) stats(c *fiber.Ctx) error {
	st, err := s.store.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func (s *Server) listProjects(c *fiber.Ctx) error {
	projects, err := s.store.ListProjects(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(projects)
}

func (s *Server) registerProject(c *fiber.Ctx) error {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Path string `json:"path"`
	}
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if req.Path == "" {
		return badRequest("path is required")
	}
	if req.ID == "" {
		req.ID = hooks.ProjectSlug(req.Path)
	}
	if err := s.store.RegisterProject(c.UserContext(), req.ID, req.Name, req.Path); err != nil {
		return err
	}
	p, err := s.store.GetProject(c.UserContext(), req.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (s *Server) getProject(c *fiber.Ctx) error {
	p, err := s.store.GetProject(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if p == nil {
		return notFound("project")
	}
	return c.JSON(p)
}

func (s *Server) listSessions(c *fiber.Ctx) error {
	sessions, err := s.store.ListSessions(c.UserContext(), c.QueryBool("active"))
	if err != nil {
		return err
	}
	return c.JSON(sessions)
}

func (s *Server) getSession(c *fiber.Ctx) error {
	sess, err := s.store.GetSession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if sess == nil {
		return notFound("session")
	}
	return c.JSON(sess)
}

func (s *Server) sessionAgents(c *fiber.Ctx) error {
	agents, err := s.store.ListAgentsBySession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(agents)
}

func (s *Server) sessionContext(c *fiber.Ctx) error {
	entries, err := s.store.ListContextBySession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (s *Server) deleteSessionContext(c *fiber.Ctx) error {
	typ := c.Query("type")
	if typ == "" {
		return badRequest("type query parameter is required")
	}
	n, err := s.store.DeleteContextByType(c.UserContext(), c.Params("id"), typ)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": n})
}

func (s *Server) sessionFiles(c *fiber.Ctx) error {
	files, err := s.store.ListFileChangesBySession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(files)
}

func (s *Server) sessionActivities(c *fiber.Ctx) error {
	acts, err := s.store.ListActivitiesBySession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(acts)
}

func (s *Server) sessionEvents(c *fiber.Ctx) error {
	events, err := s.store.ListEventsBySession(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(events)
}

func (s *Server) listAgents(c *fiber.Ctx) error {
	agents, err := s.store.ListAgents(c.UserContext(), c.QueryBool("active"))
	if err != nil {
		return err
	}
	return c.JSON(agents)
}

func (s *Server) getAgent(c *fiber.Ctx) error {
	a, err := s.store.GetAgent(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	if a == nil {
		return notFound("agent")
	}
	return c.JSON(a)
}

func (s *Server) agentContext(c *fiber.Ctx) error {
	entries, err := s.store.ListContextByAgent(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(entries)
}

func (s *Server) agentFiles(c *fiber.Ctx) error {
	files, err := s.store.ListFileChangesByAgent(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(files)
}

func (s *Server) addContext(c *fiber.Ctx) error {
	var e store.ContextEntry
	if err := decodeBody(c, &e); err != nil {
		return err
	}
	id, err := s.store.AddContextEntry(c.UserContext(), e)
	if err != nil {
		return err
	}
	s.hub.Publish("ContextAdded", fiber.Map{"id": id, "session_id": e.SessionID, "entry_type": e.EntryType})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (s *Server) listTasks(c *fiber.Ctx) error {
	var projectID *string
	if p := c.Query("project_id"); p != "" {
		projectID = &p
	}
	tasks, err := s.store.ListTasks(c.UserContext(), projectID)
	if err != nil {
		return err
	}
	return c.JSON(tasks)
}

func (s *Server) createTask(c *fiber.Ctx) error {
	var req store.NewTask
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	id, err := s.store.CreateTask(c.UserContext(), req)
	if err != nil {
		return err
	}
	t, err := s.store.GetTask(c.UserContext(), id)
	if err != nil {
		return err
	}
	s.hub.Publish("TaskCreated", t)
	return c.Status(fiber.StatusCreated).JSON(t)
}

func (s *Server) getTask(c *fiber.Ctx) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	t, err := s.store.GetTask(c.UserContext(), id)
	if err != nil {
		return err
	}
	if t == nil {
		return notFound("task")
	}
	return c.JSON(t)
}

// updateTask applies a sparse patch: absent keys are untouched, null clears.
func (s *Server) updateTask(c *fiber.Ctx) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	var u store.TaskUpdate
	if err := decodeBody(c, &u); err != nil {
		return err
	}
	ok, err := s.store.UpdateTask(c.UserContext(), id, u)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("task")
	}
	t, err := s.store.GetTask(c.UserContext(), id)
	if err != nil {
		return err
	}
	s.hub.Publish("TaskUpdated", t)
	return c.JSON(t)
}

func (s *Server) deleteTask(c *fiber.Ctx) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	ok, err := s.store.DeleteTask(c.UserContext(), id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("task")
	}
	s.hub.Publish("TaskDeleted", fiber.Map{"id": id})
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) listComments(c *fiber.Ctx) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	comments, err := s.store.ListTaskComments(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(comments)
}

func (s *Server) addComment(c *fiber.Ctx) error {
	id, err := taskID(c)
	if err != nil {
		return err
	}
	t, err := s.store.GetTask(c.UserContext(), id)
	if err != nil {
		return err
	}
	if t == nil {
		return notFound("task")
	}
	var cm store.TaskComment
	if err := decodeBody(c, &cm); err != nil {
		return err
	}
	cm.TaskID = id
	commentID, err := s.store.AddTaskComment(c.UserContext(), cm)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": commentID})
}

func (s *Server) listActivities(c *fiber.Ctx) error {
	acts, err := s.store.ListActivities(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(acts)
}

func (s *Server) listEvents(c *fiber.Ctx) error {
	events, err := s.store.ListEvents(c.UserContext(), c.QueryInt("limit", 100))
	if err != nil {
		return err
	}
	return c.JSON(events)
}
