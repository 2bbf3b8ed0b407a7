package pipeline

import (
	"net/http"
	"strconv"

	"github.com/conduit-ci/conduit/api/rest/service/pipeline"
	"github.com/labstack/echo/v4"
)

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	pipelines, err := pipeline.Service(c.Request().Context()).List(req)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, pipelines)
}

func parseListRequest(c echo.Context) (req *pipeline.ListRequest, err error) {
	req = &pipeline.ListRequest{
		Status: c.QueryParam("status"),
		Repo:   c.QueryParam("repo"),
	}

	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.ParseUint(limit, 10, 32); err != nil {
			return nil, err
		}
	}

	if offset := c.QueryParam("offset"); offset != "" {
		if req.Offset, err = strconv.ParseUint(offset, 10, 64); err != nil {
			return nil, err
		}
	}

	return
}
